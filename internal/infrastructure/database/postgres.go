// Package database provides PostgreSQL-backed audit storage for
// processed WIP packets. It handles connection pooling, schema
// migration, and the analytics queries behind the operational
// dashboards layered on top of the protocol; nothing in the wire
// protocol itself reads these records back.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/sean-rowe/wip-server/internal/core/ports"
)

// PostgresDB manages PostgreSQL database connections and operations.
type PostgresDB struct {
	db     *sql.DB
	logger *zap.Logger
}

// Config contains PostgreSQL connection configuration.
type Config struct {
	Host                  string
	Port                  int
	User                  string
	Password              string
	Database              string
	SSLMode               string
	MaxConnections        int
	MaxIdleConnections    int
	ConnectionMaxLifetime time.Duration
}

// NewPostgresDB creates a new PostgreSQL database connection with
// pooling and runs pending migrations.
func NewPostgresDB(cfg Config, logger *zap.Logger) (*PostgresDB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Database,
		cfg.SSLMode,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)
	db.SetConnMaxLifetime(cfg.ConnectionMaxLifetime)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pgDB := &PostgresDB{
		db:     db,
		logger: logger,
	}

	if err := RunMigrations(db, logger); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return pgDB, nil
}

// LogPacket implements ports.AuditRepository.
func (p *PostgresDB) LogPacket(ctx context.Context, rec ports.AuditRecord) error {
	tracer := otel.Tracer("database")
	ctx, span := tracer.Start(ctx, "LogPacket")

	defer span.End()

	span.SetAttributes(
		attribute.String("wip.role", string(rec.Role)),
		attribute.Int("wip.packet_id", int(rec.PacketID)),
		attribute.Int("wip.area_code", int(rec.AreaCode)),
	)

	query := `CALL sp_log_packet_audit($1, $2, $3, $4, $5, $6, $7, $8)`

	start := time.Now()
	_, err := p.db.ExecContext(ctx, query,
		string(rec.Role),
		int32(rec.PacketID),
		int16(rec.Type),
		int32(rec.AreaCode),
		rec.RemoteAddr,
		int16(rec.ResultCode),
		rec.DurationMs,
		rec.ErrorMessage,
	)
	duration := time.Since(start)

	if err != nil {
		span.RecordError(err)

		p.logger.Error("failed to log packet audit",
			zap.Error(err),
			zap.String("role", string(rec.Role)),
			zap.Duration("duration", duration))

		return err
	}

	return nil
}

// GetStats implements ports.AuditRepository.
func (p *PostgresDB) GetStats(ctx context.Context, since time.Time) (map[string]interface{}, error) {
	query := `SELECT * FROM fn_get_packet_stats($1)`

	var stats struct {
		TotalPackets  int64
		TotalErrors   int64
		AvgDuration   sql.NullFloat64
		MaxDuration   sql.NullInt64
		DistinctAreas int64
	}

	err := p.db.QueryRowContext(ctx, query, since).Scan(
		&stats.TotalPackets,
		&stats.TotalErrors,
		&stats.AvgDuration,
		&stats.MaxDuration,
		&stats.DistinctAreas,
	)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"total_packets":   stats.TotalPackets,
		"total_errors":    stats.TotalErrors,
		"avg_duration_ms": stats.AvgDuration.Float64,
		"max_duration_ms": stats.MaxDuration.Int64,
		"distinct_areas":  stats.DistinctAreas,
	}, nil
}

// Close closes the database connection pool.
func (p *PostgresDB) Close() error {
	return p.db.Close()
}

// Ping verifies the database connection is alive.
func (p *PostgresDB) Ping() error {
	return p.db.Ping()
}
