package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-wpan/internal/wpan"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200

	// bufferSize is the number of changes held while the writer is busy.
	bufferSize = 512

	// timeFormat is fixed-width so created_at sorts as text.
	timeFormat = "2006-01-02T15:04:05.000000Z"
)

// Logger interface for optional logging.
type Logger interface {
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Event is one journal row.
type Event struct {
	ID        int64           `json:"id"`
	Kind      wpan.ChangeKind `json:"kind"`
	Entity    wpan.EntityRef  `json:"entity"`
	Property  string          `json:"property,omitempty"`
	Value     any             `json:"value,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Recorder writes wpan changes to the wpan_events table.
//
// Thread Safety: All methods are safe for concurrent use.
type Recorder struct {
	db         *sql.DB
	insertStmt *sql.Stmt
	logger     Logger

	changes chan wpan.Change
	dropped atomic.Uint64

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closed    atomic.Bool
}

// NewRecorder prepares the insert statement and starts the writer.
// The wpan_events migration must already be applied.
//
// Parameters:
//   - db: Open SQLite connection
//   - logger: Optional logger for write failures (may be nil)
//
// Returns:
//   - *Recorder: Running recorder; call Close to drain and stop it
//   - error: if the statement cannot be prepared (table missing)
func NewRecorder(db *sql.DB, logger Logger) (*Recorder, error) {
	stmt, err := db.Prepare(`
		INSERT INTO wpan_events (kind, entity_kind, entity_id, property, value, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return nil, fmt.Errorf("preparing event insert: %w", err)
	}

	r := &Recorder{
		db:         db,
		insertStmt: stmt,
		logger:     logger,
		changes:    make(chan wpan.Change, bufferSize),
		done:       make(chan struct{}),
	}

	r.wg.Add(1)
	go r.writeLoop()
	return r, nil
}

// Observe implements wpan.Observer. It never blocks.
func (r *Recorder) Observe(c wpan.Change) {
	if r.closed.Load() {
		return
	}
	if c.Time.IsZero() {
		c.Time = time.Now()
	}

	select {
	case r.changes <- c:
	default:
		if r.dropped.Add(1) == 1 {
			r.logWarn("journal buffer full, dropping events", "entity", c.Entity.String())
		}
	}
}

// Dropped returns how many changes were discarded because the buffer was
// full.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Close stops accepting changes, writes what is buffered and releases the
// prepared statement. The database itself stays open.
func (r *Recorder) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		close(r.done)
		r.wg.Wait()
		err = r.insertStmt.Close()
	})
	return err
}

func (r *Recorder) writeLoop() {
	defer r.wg.Done()

	for {
		select {
		case c := <-r.changes:
			r.write(c)
		case <-r.done:
			for {
				select {
				case c := <-r.changes:
					r.write(c)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(c wpan.Change) {
	value, err := json.Marshal(c.Value)
	if err != nil {
		r.logError("encoding event value", err)
		value = []byte("null")
	}

	_, err = r.insertStmt.Exec(
		string(c.Kind),
		string(c.Entity.Kind),
		c.Entity.ID,
		c.Property,
		string(value),
		c.Reason,
		c.Time.UTC().Format(timeFormat),
	)
	if err != nil {
		r.logError("recording event", err)
	}
}

// History returns recent events of one entity, newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - ref: Entity whose events to return
//   - limit: Maximum entries to return (default 50, max 200)
func (r *Recorder) History(ctx context.Context, ref wpan.EntityRef, limit int) ([]Event, error) {
	return r.query(ctx,
		`SELECT id, kind, entity_kind, entity_id, property, value, reason, created_at
		 FROM wpan_events
		 WHERE entity_kind = ? AND entity_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		clampLimit(limit), string(ref.Kind), ref.ID)
}

// Recent returns the latest events of every entity, newest first.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]Event, error) {
	return r.query(ctx,
		`SELECT id, kind, entity_kind, entity_id, property, value, reason, created_at
		 FROM wpan_events
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		clampLimit(limit))
}

// query runs a select whose last placeholder is the limit.
func (r *Recorder) query(ctx context.Context, q string, limit int, args ...any) ([]Event, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}

	rows, err := r.db.QueryContext(ctx, q, append(args, limit)...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			e          Event
			kind       string
			entityKind string
			value      string
			createdAt  string
		)
		if err := rows.Scan(&e.ID, &kind, &entityKind, &e.Entity.ID, &e.Property, &value, &e.Reason, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		e.Kind = wpan.ChangeKind(kind)
		e.Entity.Kind = wpan.EntityKind(entityKind)

		if err := json.Unmarshal([]byte(value), &e.Value); err != nil {
			return nil, fmt.Errorf("decoding event value: %w", err)
		}
		if e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}
	return events, nil
}

// Prune deletes events older than the given duration.
//
// Returns:
//   - int64: Number of rows deleted
//   - error: ErrInvalidRetention for a non-positive duration, otherwise the
//     underlying database error
func (r *Recorder) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, ErrInvalidRetention
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(timeFormat)
	result, err := r.db.ExecContext(ctx, "DELETE FROM wpan_events WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting events: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}

func (r *Recorder) logWarn(msg string, keysAndValues ...any) {
	if r.logger != nil {
		r.logger.Warn(msg, keysAndValues...)
	}
}

func (r *Recorder) logError(msg string, err error) {
	if r.logger != nil {
		r.logger.Error(msg, "error", err)
	}
}
