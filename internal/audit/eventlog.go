package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
)

type Event struct {
	Seq       int64  `db:"seq" json:"seq"`
	SiteID    string `db:"site_id" json:"site_id"`
	Type      string `db:"typ" json:"type"`
	Key       string `db:"event_key" json:"key"`
	DataJSON  string `db:"data" json:"data"`
	CreatedAt int64  `db:"created_at" json:"created_at"`
}

// Log is an append-only attempt event log.
type Log interface {
	Append(ctx context.Context, typ, key string, data any) error
	ListByKey(ctx context.Context, key string, limit int) ([]Event, error)
}

type EventRepo struct {
	db     *sqlx.DB
	siteID string
}

func NewEventRepo(db *sqlx.DB, siteID string) *EventRepo {
	if siteID == "" {
		siteID = "local"
	}
	return &EventRepo{db: db, siteID: siteID}
}

func (r *EventRepo) Append(ctx context.Context, typ, key string, data any) error {
	buf, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, r.db.Rebind(
		`INSERT INTO event_log (site_id, typ, event_key, data, created_at)
		 VALUES (?,?,?,?,?)`),
		r.siteID, typ, key, string(buf), time.Now().Unix())
	return err
}

// ListByKey returns events for one key, oldest first.
func (r *EventRepo) ListByKey(ctx context.Context, key string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	out := []Event{}
	err := r.db.SelectContext(ctx, &out, r.db.Rebind(
		`SELECT seq, site_id, typ, event_key, data, created_at FROM event_log
		 WHERE event_key=? ORDER BY seq LIMIT ?`), key, limit)
	return out, err
}

// MemoryLog backs the in-memory deployment mode.
type MemoryLog struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryLog() *MemoryLog { return &MemoryLog{} }

func (m *MemoryLog) Append(_ context.Context, typ, key string, data any) error {
	buf, err := json.Marshal(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, Event{
		Seq:       int64(len(m.events) + 1),
		SiteID:    "local",
		Type:      typ,
		Key:       key,
		DataJSON:  string(buf),
		CreatedAt: time.Now().Unix(),
	})
	return nil
}

func (m *MemoryLog) ListByKey(_ context.Context, key string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Event{}
	for _, e := range m.events {
		if e.Key == key && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}
