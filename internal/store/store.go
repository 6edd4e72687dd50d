// Package store keeps a history of batches seen on the progress stream.
package store

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/victorarias/c0lor-mem/internal/protocol"
)

// Fixed width so first_seen sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Record is one stored batch.
type Record struct {
	ID         string
	Status     string
	Total      int
	Completed  int
	Failed     int
	LastAPL    *float64
	FirstSeen  time.Time
	FinishedAt *time.Time
}

// Store is safe for concurrent use.
type Store struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

// Open opens (or creates) the history database at path.
func Open(path string) (*Store, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert inserts or updates the batch described by evt. A finished batch
// is never moved back to running by a late event.
func (s *Store) Upsert(evt protocol.ProgressEvent) error {
	if evt.BatchID == "" {
		return fmt.Errorf("upsert batch: empty id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC().Format(timeLayout)
	var finished interface{}
	if evt.IsTerminal() {
		finished = now
	}

	_, err := s.db.Exec(`
		INSERT INTO batches (id, status, total, completed, failed, last_apl, first_seen, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			total = excluded.total,
			completed = excluded.completed,
			failed = excluded.failed,
			last_apl = COALESCE(excluded.last_apl, batches.last_apl),
			finished_at = excluded.finished_at
		WHERE batches.finished_at IS NULL`,
		evt.BatchID, evt.Status, evt.Total, evt.Completed, evt.Failed, evt.CurrentAPL, now, finished)
	if err != nil {
		return fmt.Errorf("upsert batch %s: %w", evt.BatchID, err)
	}
	return nil
}

// Get returns one batch, or nil if it was never seen.
func (s *Store) Get(id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`
		SELECT id, status, total, completed, failed, last_apl, first_seen, finished_at
		FROM batches WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// Recent returns up to limit batches, newest first.
func (s *Store) Recent(limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT id, status, total, completed, failed, last_apl, first_seen, finished_at
		FROM batches ORDER BY first_seen DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MarkInterrupted closes every batch still running, e.g. after the worker
// died and can no longer report on them.
func (s *Store) MarkInterrupted() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC().Format(timeLayout)
	res, err := s.db.Exec(`UPDATE batches SET status = ?, finished_at = ? WHERE finished_at IS NULL`,
		protocol.BatchFailed, now)
	if err != nil {
		return 0, fmt.Errorf("mark interrupted: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(sc scanner) (*Record, error) {
	var (
		rec       Record
		lastAPL   sql.NullFloat64
		firstSeen string
		finished  sql.NullString
	)
	if err := sc.Scan(&rec.ID, &rec.Status, &rec.Total, &rec.Completed, &rec.Failed, &lastAPL, &firstSeen, &finished); err != nil {
		return nil, err
	}
	if lastAPL.Valid {
		rec.LastAPL = protocol.Ptr(lastAPL.Float64)
	}
	rec.FirstSeen, _ = time.Parse(timeLayout, firstSeen)
	if finished.Valid {
		t, err := time.Parse(timeLayout, finished.String)
		if err == nil {
			rec.FinishedAt = &t
		}
	}
	return &rec, nil
}
