package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/vivarium/internal/telemetry"
)

// timeLayout is the SQLite TIMESTAMP text form. It sorts lexically.
const timeLayout = "2006-01-02 15:04:05"

const insertSampleSQL = `INSERT INTO samples (id, recorded_at, measurement, field, value, tags) VALUES (?, ?, ?, ?, ?, ?)`

const pruneSQL = `DELETE FROM samples WHERE recorded_at < ?`

// Journal is a telemetry.Sink storing one row per field.
type Journal struct {
	db    *sql.DB
	newID func() string
}

// NewJournal wraps an open database.
func NewJournal(db *sql.DB) *Journal {
	return &Journal{db: db, newID: uuid.NewString}
}

// Write implements telemetry.Sink. A batch is stored atomically. Fields
// that are neither numeric nor boolean are skipped.
func (j *Journal) Write(ctx context.Context, records []telemetry.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin journal write: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, rec := range records {
		var tags *string
		if len(rec.Tags) > 0 {
			if b, err := json.Marshal(rec.Tags); err == nil {
				s := string(b)
				tags = &s
			}
		}
		at := rec.Time.UTC().Format(timeLayout)

		names := make([]string, 0, len(rec.Fields))
		for k := range rec.Fields {
			names = append(names, k)
		}
		sort.Strings(names)

		for _, name := range names {
			v, ok := numeric(rec.Fields[name])
			if !ok {
				continue
			}
			if _, err := tx.ExecContext(ctx, insertSampleSQL, j.newID(), at, rec.Measurement, name, v, tags); err != nil {
				return fmt.Errorf("insert %s: %w", name, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit journal write: %w", err)
	}
	return nil
}

// Prune deletes samples recorded before cutoff and returns how many went.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, pruneSQL, cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("prune journal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune journal: %w", err)
	}
	return n, nil
}

func numeric(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
