// Package bus implements the in-process publish/subscribe event bus with
// a JSONL audit trail. Every published event is appended to the day's
// audit file before fan-out; subscriber failures are isolated so one bad
// handler never blocks the rest.
package bus

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/advisord/advisord/pkg/logger"
	"github.com/advisord/advisord/pkg/models"
)

// Wildcard subscribes a handler to every event type.
const Wildcard = "*"

// Handler is a bus subscriber callback.
type Handler func(ctx context.Context, event models.Event)

// Subscription identifies one handler registration so it can be removed.
type Subscription struct {
	eventType string
	id        uint64
}

type subscriber struct {
	id      uint64
	handler Handler
}

// Bus is an in-process pub/sub bus with a daily JSONL audit log.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]subscriber
	nextID      uint64

	auditMu  sync.Mutex
	auditDir string
	audit    bool

	log *zap.Logger
}

// New creates a bus writing audit files under auditDir. If audit is
// false, events are dispatched without being persisted.
func New(auditDir string, audit bool) *Bus {
	return &Bus{
		subscribers: map[string][]subscriber{},
		auditDir:    auditDir,
		audit:       audit,
		log:         logger.Named("bus"),
	}
}

// Dir returns the audit directory.
func (b *Bus) Dir() string { return b.auditDir }

// Subscribe registers a handler for events of the given type. Use
// Wildcard to receive every event. The returned subscription removes
// exactly this registration when passed to Unsubscribe.
func (b *Bus) Subscribe(eventType string, handler func(ctx context.Context, event models.Event)) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriber{id: b.nextID, handler: handler})
	return Subscription{eventType: eventType, id: b.nextID}
}

// Unsubscribe removes the registration identified by sub. Removing a
// subscription that is already gone is a no-op.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[sub.eventType]
	for i, s := range subs {
		if s.id == sub.id {
			b.subscribers[sub.eventType] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Publish appends the event to the audit log, then dispatches it to all
// subscribers of its type plus wildcard subscribers. Dispatch happens
// concurrently; Publish returns once every handler has finished. A failed
// audit write is logged but never blocks dispatch.
func (b *Bus) Publish(ctx context.Context, event models.Event) error {
	if b.audit {
		if err := b.appendAudit(event); err != nil {
			b.log.Error("audit write failed",
				zap.String("event_id", event.ID),
				zap.String("type", event.Type),
				zap.Error(err))
		}
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subscribers[event.Type])+len(b.subscribers[Wildcard]))
	for _, s := range b.subscribers[event.Type] {
		handlers = append(handlers, s.handler)
	}
	for _, s := range b.subscribers[Wildcard] {
		handlers = append(handlers, s.handler)
	}
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.log.Debug("no subscribers", zap.String("type", event.Type))
		return nil
	}

	var wg sync.WaitGroup
	for _, h := range handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.log.Error("subscriber panicked",
						zap.String("type", event.Type),
						zap.Any("panic", r))
				}
			}()
			h(ctx, event)
		}(h)
	}
	wg.Wait()
	return nil
}

// AuditFile returns the audit file path for the given day (UTC).
func (b *Bus) AuditFile(day time.Time) string {
	return filepath.Join(b.auditDir, day.UTC().Format("2006-01-02")+".jsonl")
}

func (b *Bus) appendAudit(event models.Event) error {
	b.auditMu.Lock()
	defer b.auditMu.Unlock()

	if err := os.MkdirAll(b.auditDir, 0755); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	path := b.AuditFile(event.Timestamp)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append audit line: %w", err)
	}
	return nil
}

// CountEvents counts audit log entries of the given type for a day.
// A missing audit file counts as zero.
func CountEvents(auditDir string, day time.Time, eventType string) (int, error) {
	path := filepath.Join(auditDir, day.UTC().Format("2006-01-02")+".jsonl")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		if ev.Type == eventType {
			count++
		}
	}
	return count, scanner.Err()
}

// ReadDay loads every event from a day's audit file, in append order.
func ReadDay(auditDir string, day time.Time) ([]models.Event, error) {
	path := filepath.Join(auditDir, day.UTC().Format("2006-01-02")+".jsonl")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var events []models.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev models.Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, scanner.Err()
}
