// Package store is the unified storage layer: JSON/Markdown files under
// the advisor home are the source of truth; a SQLite index provides fast
// lookups for market rows, memories, and conversation history. The index
// is a strict projection and can be rebuilt from the files.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/advisord/advisord/pkg/logger"
	"github.com/advisord/advisord/pkg/models"
)

// Entity kinds map directly to subdirectories of the home.
const (
	KindSignals   = "signals"
	KindPositions = "positions"
	KindMemories  = "memories"
	KindTasks     = "tasks"
	KindMemos     = "memos"
)

// Store owns all on-disk artifacts. All paths are relative to home.
type Store struct {
	home  string
	index *Index
	log   *zap.Logger
}

// Open initializes the store at home, running index migrations.
func Open(home string) (*Store, error) {
	idx, err := OpenIndex(filepath.Join(home, "db.sqlite"))
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	return &Store{home: home, index: idx, log: logger.Named("store")}, nil
}

// Close releases the SQLite index.
func (s *Store) Close() error { return s.index.Close() }

// Home returns the advisor home directory.
func (s *Store) Home() string { return s.home }

// Index exposes the SQLite projection.
func (s *Store) Index() *Index { return s.index }

// ------------------------------------------------------------------
// Raw entity files
// ------------------------------------------------------------------

// WriteEntity atomically replaces kind/key with data (write temp, rename).
func (s *Store) WriteEntity(kind, key string, data []byte) error {
	path := filepath.Join(s.home, kind, key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// ReadEntity returns the contents of kind/key, or nil if absent.
func (s *Store) ReadEntity(kind, key string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.home, kind, key))
	if os.IsNotExist(err) {
		return nil, nil
	}
	return data, err
}

// ListEntities returns filenames under kind, sorted.
func (s *Store) ListEntities(kind string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.home, kind))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// DeleteEntity removes kind/key; reports whether it existed.
func (s *Store) DeleteEntity(kind, key string) (bool, error) {
	err := os.Remove(filepath.Join(s.home, kind, key))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) writeJSON(kind, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", kind, key, err)
	}
	return s.WriteEntity(kind, key, data)
}

// ------------------------------------------------------------------
// Signals
// ------------------------------------------------------------------

// SaveSignal persists a signal as signals/<id>.json.
func (s *Store) SaveSignal(sig *models.Signal) error {
	return s.writeJSON(KindSignals, sig.ID+".json", sig)
}

// LoadSignal reads one signal by id, nil if absent.
func (s *Store) LoadSignal(id string) (*models.Signal, error) {
	data, err := s.ReadEntity(KindSignals, id+".json")
	if err != nil || data == nil {
		return nil, err
	}
	var sig models.Signal
	if err := json.Unmarshal(data, &sig); err != nil {
		return nil, fmt.Errorf("parse signal %s: %w", id, err)
	}
	return &sig, nil
}

// ListSignals loads every persisted signal, skipping unreadable files.
func (s *Store) ListSignals() ([]*models.Signal, error) {
	names, err := s.ListEntities(KindSignals)
	if err != nil {
		return nil, err
	}
	var out []*models.Signal
	for _, name := range names {
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		sig, err := s.LoadSignal(strings.TrimSuffix(name, ".json"))
		if err != nil {
			s.log.Warn("skipping unreadable signal", zap.String("file", name), zap.Error(err))
			continue
		}
		if sig != nil {
			out = append(out, sig)
		}
	}
	return out, nil
}

// ------------------------------------------------------------------
// Positions
// ------------------------------------------------------------------

func positionKey(portfolio, ticker string) string {
	return filepath.Join(portfolio, strings.ToUpper(ticker)+".json")
}

// SavePosition persists positions/<portfolio>/<TICKER>.json.
func (s *Store) SavePosition(pos *models.Position) error {
	return s.writeJSON(KindPositions, positionKey(pos.Portfolio, pos.Ticker), pos)
}

// LoadPosition reads one position, nil if absent.
func (s *Store) LoadPosition(portfolio, ticker string) (*models.Position, error) {
	data, err := s.ReadEntity(KindPositions, positionKey(portfolio, ticker))
	if err != nil || data == nil {
		return nil, err
	}
	var pos models.Position
	if err := json.Unmarshal(data, &pos); err != nil {
		return nil, fmt.Errorf("parse position %s/%s: %w", portfolio, ticker, err)
	}
	return &pos, nil
}

// ListPositions loads every position in one book.
func (s *Store) ListPositions(portfolio string) ([]*models.Position, error) {
	names, err := s.ListEntities(filepath.Join(KindPositions, portfolio))
	if err != nil {
		return nil, err
	}
	var out []*models.Position
	for _, name := range names {
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		pos, err := s.LoadPosition(portfolio, strings.TrimSuffix(name, ".json"))
		if err != nil {
			s.log.Warn("skipping unreadable position", zap.String("file", name), zap.Error(err))
			continue
		}
		if pos != nil {
			out = append(out, pos)
		}
	}
	return out, nil
}

// DeletePosition removes one position file.
func (s *Store) DeletePosition(portfolio, ticker string) (bool, error) {
	return s.DeleteEntity(KindPositions, positionKey(portfolio, ticker))
}

// ------------------------------------------------------------------
// Tasks
// ------------------------------------------------------------------

// SaveTask persists tasks/<id>.json.
func (s *Store) SaveTask(task *models.Task) error {
	return s.writeJSON(KindTasks, task.ID+".json", task)
}

// LoadTask reads one task by id, nil if absent.
func (s *Store) LoadTask(id string) (*models.Task, error) {
	data, err := s.ReadEntity(KindTasks, id+".json")
	if err != nil || data == nil {
		return nil, err
	}
	var task models.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("parse task %s: %w", id, err)
	}
	return &task, nil
}

// ListTasks loads every task file.
func (s *Store) ListTasks() ([]*models.Task, error) {
	names, err := s.ListEntities(KindTasks)
	if err != nil {
		return nil, err
	}
	var out []*models.Task
	for _, name := range names {
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		task, err := s.LoadTask(strings.TrimSuffix(name, ".json"))
		if err != nil {
			s.log.Warn("skipping unreadable task", zap.String("file", name), zap.Error(err))
			continue
		}
		if task != nil {
			out = append(out, task)
		}
	}
	return out, nil
}

// DeleteTask removes tasks/<id>.json; reports whether it existed.
func (s *Store) DeleteTask(id string) (bool, error) {
	return s.DeleteEntity(KindTasks, id+".json")
}

// ------------------------------------------------------------------
// Memories
// ------------------------------------------------------------------

// SaveMemory persists memories/<id>.json and updates the index.
func (s *Store) SaveMemory(mem *models.Memory) error {
	if err := s.writeJSON(KindMemories, mem.ID+".json", mem); err != nil {
		return err
	}
	return s.index.IndexMemory(mem)
}

// LoadMemory reads one memory by id, nil if absent.
func (s *Store) LoadMemory(id string) (*models.Memory, error) {
	data, err := s.ReadEntity(KindMemories, id+".json")
	if err != nil || data == nil {
		return nil, err
	}
	var mem models.Memory
	if err := json.Unmarshal(data, &mem); err != nil {
		return nil, fmt.Errorf("parse memory %s: %w", id, err)
	}
	return &mem, nil
}

// ------------------------------------------------------------------
// Memos
// ------------------------------------------------------------------

// SaveMemo writes the rendered memo and returns its path. The filename is
// memos/YYYY-MM-DD_<ticker>_<direction>.md.
func (s *Store) SaveMemo(memo *models.InvestmentMemo, ticker, direction string) (string, error) {
	name := fmt.Sprintf("%s_%s_%s.md",
		memo.CreatedAt.UTC().Format("2006-01-02"),
		strings.ToUpper(ticker), direction)
	if err := s.WriteEntity(KindMemos, name, []byte(memo.ToMarkdown())); err != nil {
		return "", err
	}
	return filepath.Join(s.home, KindMemos, name), nil
}
