package store

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/advisord/advisord/pkg/logger"
	"github.com/advisord/advisord/pkg/models"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Index is the SQLite projection: market rows, memory lookup, chat log.
type Index struct {
	db  *sqlx.DB
	log *zap.Logger
}

// OpenIndex opens (or creates) the SQLite database and applies migrations.
func OpenIndex(path string) (*Index, error) {
	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite handles one writer at a time
	db.SetMaxOpenConns(1)

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, err
	}

	log := logger.Named("store.index")
	log.Info("sqlite index ready", zap.String("path", path))
	return &Index{db: db, log: log}, nil
}

func runMigrations(db *sql.DB) error {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close closes the database.
func (ix *Index) Close() error { return ix.db.Close() }

// ------------------------------------------------------------------
// Market data
// ------------------------------------------------------------------

type marketRow struct {
	Ticker      string          `db:"ticker"`
	Timestamp   string          `db:"timestamp"`
	AvailableAt string          `db:"available_at"`
	Open        sql.NullFloat64 `db:"open"`
	High        sql.NullFloat64 `db:"high"`
	Low         sql.NullFloat64 `db:"low"`
	Close       float64         `db:"close"`
	Volume      sql.NullFloat64 `db:"volume"`
	Source      string          `db:"source"`
	DataType    string          `db:"data_type"`
	Metadata    sql.NullString  `db:"metadata"`
}

// SaveMarketData upserts rows keyed by (ticker, timestamp, source).
// Rows violating the availability clock are skipped: available_at must
// never precede timestamp, and in production mode a row may not claim to
// be available in the future. Returns the number of rows written.
func (ix *Index) SaveMarketData(rows []models.MarketData, tc models.TimeContext) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	now := tc.Now()
	inserted := 0
	for _, r := range rows {
		if r.AvailableAt.Before(r.Timestamp) {
			ix.log.Warn("rejecting market row: available_at precedes timestamp",
				zap.String("ticker", r.Ticker), zap.Time("timestamp", r.Timestamp))
			continue
		}
		if !tc.IsSimulation() && r.AvailableAt.After(now) {
			ix.log.Warn("rejecting market row: available_at in the future",
				zap.String("ticker", r.Ticker), zap.Time("available_at", r.AvailableAt))
			continue
		}

		var meta any
		if len(r.Metadata) > 0 {
			data, err := json.Marshal(r.Metadata)
			if err == nil {
				meta = string(data)
			}
		}
		_, err := ix.db.Exec(
			`INSERT OR REPLACE INTO market_data
			 (ticker, timestamp, available_at, open, high, low, close,
			  volume, source, data_type, metadata)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			strings.ToUpper(r.Ticker),
			r.Timestamp.UTC().Format(time.RFC3339),
			r.AvailableAt.UTC().Format(time.RFC3339),
			nullable(r.Open), nullable(r.High), nullable(r.Low),
			r.Close, nullable(r.Volume),
			r.Source, r.DataType, meta,
		)
		if err != nil {
			ix.log.Error("market row insert failed",
				zap.String("ticker", r.Ticker), zap.Error(err))
			continue
		}
		inserted++
	}
	return inserted, nil
}

func nullable(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

// QueryMarket returns rows for one ticker, newest first. When asOf is
// set, only rows with available_at <= asOf are visible.
func (ix *Index) QueryMarket(ticker string, asOf *time.Time, limit int) ([]models.MarketData, error) {
	if limit <= 0 {
		limit = 100
	}
	var raw []marketRow
	var err error
	if asOf != nil {
		err = ix.db.Select(&raw,
			`SELECT * FROM market_data
			 WHERE ticker = ? AND available_at <= ?
			 ORDER BY timestamp DESC LIMIT ?`,
			strings.ToUpper(ticker), asOf.UTC().Format(time.RFC3339), limit)
	} else {
		err = ix.db.Select(&raw,
			`SELECT * FROM market_data
			 WHERE ticker = ?
			 ORDER BY timestamp DESC LIMIT ?`,
			strings.ToUpper(ticker), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query market data: %w", err)
	}

	out := make([]models.MarketData, 0, len(raw))
	for _, r := range raw {
		md, err := r.toModel()
		if err != nil {
			ix.log.Warn("skipping malformed market row",
				zap.String("ticker", r.Ticker), zap.Error(err))
			continue
		}
		out = append(out, md)
	}
	return out, nil
}

func (r marketRow) toModel() (models.MarketData, error) {
	ts, err := time.Parse(time.RFC3339, r.Timestamp)
	if err != nil {
		return models.MarketData{}, fmt.Errorf("parse timestamp: %w", err)
	}
	avail, err := time.Parse(time.RFC3339, r.AvailableAt)
	if err != nil {
		return models.MarketData{}, fmt.Errorf("parse available_at: %w", err)
	}
	md := models.MarketData{
		Ticker:      r.Ticker,
		Timestamp:   ts,
		AvailableAt: avail,
		Close:       r.Close,
		Source:      r.Source,
		DataType:    r.DataType,
	}
	if r.Open.Valid {
		md.Open = models.Float64Ptr(r.Open.Float64)
	}
	if r.High.Valid {
		md.High = models.Float64Ptr(r.High.Float64)
	}
	if r.Low.Valid {
		md.Low = models.Float64Ptr(r.Low.Float64)
	}
	if r.Volume.Valid {
		md.Volume = models.Float64Ptr(r.Volume.Float64)
	}
	if r.Metadata.Valid && r.Metadata.String != "" {
		_ = json.Unmarshal([]byte(r.Metadata.String), &md.Metadata)
	}
	return md, nil
}

// LatestPrice returns the most recent close for a ticker, nil if unknown.
func (ix *Index) LatestPrice(ticker string, asOf *time.Time) (*float64, error) {
	rows, err := ix.QueryMarket(ticker, asOf, 1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return models.Float64Ptr(rows[0].Close), nil
}

// ------------------------------------------------------------------
// Memory index
// ------------------------------------------------------------------

// IndexMemory adds or updates a memory in the lookup index. The ticker
// column is derived from the first tag that looks like a ticker symbol.
func (ix *Index) IndexMemory(mem *models.Memory) error {
	ticker := ""
	for _, tag := range mem.Tags {
		if tag != "" && (tag == strings.ToUpper(tag) || strings.HasPrefix(tag, "$")) {
			ticker = strings.TrimPrefix(tag, "$")
			break
		}
	}
	_, err := ix.db.Exec(
		`INSERT OR REPLACE INTO memory_index
		 (id, created_at, who_was_right, tags, ticker, confidence_impact, source)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		mem.ID,
		mem.CreatedAt.UTC().Format(time.RFC3339),
		mem.WhoWasRight,
		strings.Join(mem.Tags, ","),
		ticker,
		mem.ConfidenceImpact,
		mem.Source,
	)
	if err != nil {
		return fmt.Errorf("index memory %s: %w", mem.ID, err)
	}
	return nil
}

// MemoryQuery filters a memory search.
type MemoryQuery struct {
	Ticker string
	Tags   []string
	Since  *time.Time
	Limit  int
}

// SearchMemories returns matching memory ids, newest first.
func (ix *Index) SearchMemories(q MemoryQuery) ([]string, error) {
	var conditions []string
	var params []any

	if q.Ticker != "" {
		conditions = append(conditions, "ticker = ?")
		params = append(params, strings.ToUpper(q.Ticker))
	}
	if len(q.Tags) > 0 {
		var tagConds []string
		for _, tag := range q.Tags {
			tagConds = append(tagConds, "tags LIKE ?")
			params = append(params, "%"+tag+"%")
		}
		conditions = append(conditions, "("+strings.Join(tagConds, " OR ")+")")
	}
	if q.Since != nil {
		conditions = append(conditions, "created_at >= ?")
		params = append(params, q.Since.UTC().Format(time.RFC3339))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	params = append(params, limit)

	var ids []string
	err := ix.db.Select(&ids,
		fmt.Sprintf("SELECT id FROM memory_index %s ORDER BY created_at DESC LIMIT ?", where),
		params...)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	return ids, nil
}

// ------------------------------------------------------------------
// Conversation history
// ------------------------------------------------------------------

// ChatMessage is one persisted conversation turn.
type ChatMessage struct {
	Role    string `db:"role" json:"role"`
	Content string `db:"content" json:"content"`
}

// AppendChat appends one message to a channel's persistent history.
func (ix *Index) AppendChat(channelID, role, content string) error {
	_, err := ix.db.Exec(
		`INSERT INTO conversation_messages (channel_id, role, content, created_at)
		 VALUES (?, ?, ?, ?)`,
		channelID, role, content, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("append chat: %w", err)
	}
	return nil
}

// LoadChatHistory returns the full persisted history for all channels,
// oldest first within each channel.
func (ix *Index) LoadChatHistory() (map[string][]ChatMessage, error) {
	rows, err := ix.db.Queryx(
		`SELECT channel_id, role, content
		 FROM conversation_messages
		 ORDER BY channel_id ASC, created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("load chat history: %w", err)
	}
	defer rows.Close()

	history := map[string][]ChatMessage{}
	for rows.Next() {
		var channel, role, content string
		if err := rows.Scan(&channel, &role, &content); err != nil {
			return nil, err
		}
		history[channel] = append(history[channel], ChatMessage{Role: role, Content: content})
	}
	return history, rows.Err()
}
