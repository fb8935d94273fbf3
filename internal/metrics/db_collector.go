package metrics

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DBStatsCollector publishes connection statistics of the pgx pool and the sqlx handle
type DBStatsCollector struct {
	pgxPool *pgxpool.Pool
	sqlDB   *sql.DB
	logger  *slog.Logger
	stopCh  chan struct{}
}

// NewDBStatsCollector creates a new database stats collector
func NewDBStatsCollector(pgxPool *pgxpool.Pool, sqlDB *sql.DB, logger *slog.Logger) *DBStatsCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &DBStatsCollector{
		pgxPool: pgxPool,
		sqlDB:   sqlDB,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
}

// Start begins collecting database statistics at regular intervals
func (c *DBStatsCollector) Start(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				return
			}
		}
	}()

	c.logger.Info("Database stats collector started", "interval", interval)
}

// Stop stops the database stats collector
func (c *DBStatsCollector) Stop() {
	close(c.stopCh)
}

func (c *DBStatsCollector) collect() {
	if c.pgxPool != nil {
		stat := c.pgxPool.Stat()
		DBConnectionsOpen.WithLabelValues("pgx").Set(float64(stat.TotalConns()))
		DBConnectionsInUse.WithLabelValues("pgx").Set(float64(stat.AcquiredConns()))
		DBConnectionsIdle.WithLabelValues("pgx").Set(float64(stat.IdleConns()))
	}

	if c.sqlDB != nil {
		stats := c.sqlDB.Stats()
		DBConnectionsOpen.WithLabelValues("sqlx").Set(float64(stats.OpenConnections))
		DBConnectionsInUse.WithLabelValues("sqlx").Set(float64(stats.InUse))
		DBConnectionsIdle.WithLabelValues("sqlx").Set(float64(stats.Idle))
	}
}

// TimeQuery is a helper to time database queries.
// Usage: defer metrics.TimeQuery("lookup_address")()
func TimeQuery(operation string) func() {
	start := time.Now()
	return func() {
		DBQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}

// PingDatabase checks database connectivity and records the result
func PingDatabase(ctx context.Context, pool *pgxpool.Pool) error {
	defer TimeQuery("ping")()
	return pool.Ping(ctx)
}
