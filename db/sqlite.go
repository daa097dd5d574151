package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"carprice/ml"
	"carprice/predict"
)

// Store keeps a history of served predictions in SQLite.
type Store struct {
	db *sql.DB
}

// Prediction is one row of the history.
type Prediction struct {
	ID         int64            `json:"id"`
	RequestID  string           `json:"request_id"`
	Record     ml.FeatureRecord `json:"record"`
	Prediction predict.Price    `json:"prediction"`
	Cached     bool             `json:"cached"`
	DurationUS int64            `json:"duration_us"`
	CreatedAt  time.Time        `json:"created_at"`
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	database, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// sqlite serialises writers anyway
	database.SetMaxOpenConns(1)

	query := `
    CREATE TABLE IF NOT EXISTS predictions (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        request_id TEXT NOT NULL DEFAULT '',
        brand INTEGER NOT NULL,
        model INTEGER NOT NULL,
        year INTEGER NOT NULL,
        engine_size REAL NOT NULL,
        fuel_type INTEGER NOT NULL,
        transmission INTEGER NOT NULL,
        mileage INTEGER NOT NULL,
        doors INTEGER NOT NULL,
        owner_count INTEGER NOT NULL,
        prediction REAL NOT NULL,
        cached INTEGER NOT NULL DEFAULT 0,
        duration_us INTEGER NOT NULL DEFAULT 0,
        created_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_predictions_created_at ON predictions(created_at);
    `
	if _, err := database.Exec(query); err != nil {
		database.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: database}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record implements predict.Recorder.
func (s *Store) Record(ctx context.Context, ev predict.Event) error {
	r := ev.Record
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO predictions (
            request_id, brand, model, year, engine_size, fuel_type, transmission,
            mileage, doors, owner_count, prediction, cached, duration_us, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.RequestID,
		r.Brand,
		r.Model,
		r.Year,
		r.EngineSize,
		r.FuelType,
		r.Transmission,
		r.Mileage,
		r.Doors,
		r.OwnerCount,
		float64(ev.Prediction),
		ev.Cached,
		ev.Duration.Microseconds(),
		ev.At.UTC(),
	)
	return err
}

// Recent returns up to limit predictions, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Prediction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, request_id, brand, model, year, engine_size, fuel_type, transmission,
               mileage, doors, owner_count, prediction, cached, duration_us, created_at
        FROM predictions
        ORDER BY created_at DESC, id DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Prediction, 0)
	for rows.Next() {
		var p Prediction
		var price float64
		err := rows.Scan(&p.ID, &p.RequestID,
			&p.Record.Brand, &p.Record.Model, &p.Record.Year, &p.Record.EngineSize,
			&p.Record.FuelType, &p.Record.Transmission, &p.Record.Mileage,
			&p.Record.Doors, &p.Record.OwnerCount,
			&price, &p.Cached, &p.DurationUS, &p.CreatedAt)
		if err != nil {
			return nil, err
		}
		p.Prediction = predict.Price(price)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Count returns the number of stored predictions.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM predictions`).Scan(&n)
	return n, err
}
