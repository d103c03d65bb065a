package trace

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ashita-ai/madoguchi/internal/model"
)

// archiveQueueDepth bounds the pending-archive channel. When full, traces are
// dropped rather than blocking the pipeline.
const archiveQueueDepth = 256

// Archive persists completed traces to a local SQLite file. Writes happen on
// a background goroutine; every failure is logged and swallowed — the archive
// is a durability backstop, never a dependency of the request path.
type Archive struct {
	db     *sql.DB
	logger *slog.Logger
	queue  chan model.Trace
	done   chan struct{}
}

// NewArchive opens (creating if needed) the SQLite file at path and starts
// the background writer. Call Close to flush and stop.
func NewArchive(path string, logger *slog.Logger) (*Archive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("trace: open archive: %w", err)
	}
	// One writer; SQLite locks the whole file anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS traces (
			trace_id   TEXT PRIMARY KEY,
			operation  TEXT NOT NULL,
			status     TEXT NOT NULL,
			start_time TEXT NOT NULL,
			end_time   TEXT,
			spans      TEXT NOT NULL,
			metadata   TEXT NOT NULL
		)
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("trace: create archive schema: %w", err)
	}

	a := &Archive{
		db:     db,
		logger: logger,
		queue:  make(chan model.Trace, archiveQueueDepth),
		done:   make(chan struct{}),
	}
	go a.writeLoop()
	return a, nil
}

// Enqueue schedules a completed trace for archival. Drops the trace when the
// queue is full.
func (a *Archive) Enqueue(tr model.Trace) {
	select {
	case a.queue <- tr:
	default:
		a.logger.Debug("trace archive queue full, dropping trace", "trace_id", tr.TraceID)
	}
}

func (a *Archive) writeLoop() {
	defer close(a.done)
	for tr := range a.queue {
		if err := a.write(tr); err != nil {
			a.logger.Warn("trace archive write failed", "trace_id", tr.TraceID, "error", err)
		}
	}
}

func (a *Archive) write(tr model.Trace) error {
	spans, err := json.Marshal(tr.Spans)
	if err != nil {
		return fmt.Errorf("marshal spans: %w", err)
	}
	meta, err := json.Marshal(tr.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	var endTime any
	if tr.EndTime != nil {
		endTime = tr.EndTime.Format(time.RFC3339Nano)
	}

	_, err = a.db.Exec(
		`INSERT OR REPLACE INTO traces (trace_id, operation, status, start_time, end_time, spans, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tr.TraceID.String(), tr.Operation, string(tr.Status),
		tr.StartTime.Format(time.RFC3339Nano), endTime, string(spans), string(meta),
	)
	if err != nil {
		return fmt.Errorf("insert trace: %w", err)
	}
	return nil
}

// Count returns the number of archived traces. Used by tests and ops tooling.
func (a *Archive) Count(ctx context.Context) (int, error) {
	var n int
	if err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM traces`).Scan(&n); err != nil {
		return 0, fmt.Errorf("trace: count archived: %w", err)
	}
	return n, nil
}

// Close drains the queue and closes the database.
func (a *Archive) Close() error {
	close(a.queue)
	<-a.done
	return a.db.Close()
}
