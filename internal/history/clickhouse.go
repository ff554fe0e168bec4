package history

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/ogb4n/Jarvis/internal/logging"
)

// Record is one persisted command exchange.
type Record struct {
	SatelliteID   string    `json:"satellite_id"`
	SessionID     string    `json:"session_id"`
	Transcription string    `json:"transcription"`
	Response      string    `json:"response"`
	Success       bool      `json:"success"`
	ProcessingMs  int64     `json:"processing_ms"`
	CreatedAt     time.Time `json:"created_at"`
}

// Store persists command exchanges to ClickHouse.
type Store struct {
	conn driver.Conn
}

// NewStore opens a ClickHouse connection and ensures the schema exists.
func NewStore(addr, database, username, password string) (*Store, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	s := &Store{conn: conn}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Infow("history: connected to ClickHouse", "addr", addr, "database", database)
	return s, nil
}

func (s *Store) initSchema() error {
	ctx := context.Background()
	for _, tableSQL := range allTables() {
		if err := s.conn.Exec(ctx, tableSQL); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// Save writes one exchange record.
func (s *Store) Save(ctx context.Context, r Record) error {
	query := `
		INSERT INTO command_history (created_at, satellite_id, session_id, transcription, response, success, processing_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	if err := s.conn.Exec(ctx, query,
		r.CreatedAt,
		r.SatelliteID,
		r.SessionID,
		r.Transcription,
		r.Response,
		r.Success,
		r.ProcessingMs,
	); err != nil {
		return fmt.Errorf("failed to insert command record: %w", err)
	}
	return nil
}

// Recent returns the latest records for a satellite, newest first. An empty
// satelliteID returns records for all satellites.
func (s *Store) Recent(ctx context.Context, satelliteID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT created_at, satellite_id, session_id, transcription, response, success, processing_ms
		FROM command_history
		WHERE (? = '' OR satellite_id = ?)
		ORDER BY created_at DESC
		LIMIT ?
	`
	rows, err := s.conn.Query(ctx, query, satelliteID, satelliteID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query command history: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.CreatedAt, &r.SatelliteID, &r.SessionID, &r.Transcription, &r.Response, &r.Success, &r.ProcessingMs); err != nil {
			return nil, fmt.Errorf("failed to scan command record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close releases the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close ClickHouse connection: %w", err)
	}
	return nil
}
