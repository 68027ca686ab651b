package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/taskdeck/taskdeck/pkg/logger"
)

// Store owns the pgx pool shared by the task, progress and config repos.
type Store struct {
	pool          *pgxpool.Pool
	label         string
	healthTimeout time.Duration
}

// NewStore opens the pool and pings it before returning.
func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	if cfg == nil {
		return nil, errors.New("postgres: config is required")
	}
	s := cfg.withDefaults()
	poolCfg, err := pgxpool.ParseConfig(s.ConnString)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	s.apply(poolCfg)
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, s.PingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping %s: %w", poolLabel(cfg), err)
	}
	logger.FromContext(ctx).Info("Connected to postgres",
		"host", cfg.Host,
		"db", cfg.DBName,
		"max_conns", poolCfg.MaxConns,
		"min_conns", poolCfg.MinConns,
	)
	return &Store{pool: pool, label: poolLabel(cfg), healthTimeout: s.HealthCheckTimeout}, nil
}

func (s *Store) Close(ctx context.Context) {
	s.pool.Close()
	logger.FromContext(ctx).Info("Postgres pool closed")
}

// Pool is what repositories are built on.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// HealthCheck pings within the configured budget.
func (s *Store) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.healthTimeout)
	defer cancel()
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: unhealthy: %w", err)
	}
	return nil
}

// withDefaults returns a copy with every zero duration and limit resolved.
func (c *Config) withDefaults() Config {
	s := *c
	if s.MaxOpenConns <= 0 {
		s.MaxOpenConns = 20
	}
	s.MaxOpenConns = min(s.MaxOpenConns, math.MaxInt32)
	s.MaxIdleConns = max(0, min(s.MaxIdleConns, s.MaxOpenConns))
	if s.PingTimeout <= 0 {
		s.PingTimeout = 3 * time.Second
	}
	if s.HealthCheckTimeout <= 0 {
		s.HealthCheckTimeout = time.Second
	}
	if s.HealthCheckPeriod <= 0 {
		s.HealthCheckPeriod = 30 * time.Second
	}
	if s.ConnectTimeout <= 0 {
		s.ConnectTimeout = 5 * time.Second
	}
	return s
}

func (c Config) apply(p *pgxpool.Config) {
	p.MaxConns = int32(c.MaxOpenConns)
	p.MinConns = int32(c.MaxIdleConns)
	p.HealthCheckPeriod = c.HealthCheckPeriod
	p.ConnConfig.ConnectTimeout = c.ConnectTimeout
	if c.ConnMaxLifetime > 0 {
		p.MaxConnLifetime = c.ConnMaxLifetime
	}
	if c.ConnMaxIdleTime > 0 {
		p.MaxConnIdleTime = c.ConnMaxIdleTime
	}
}
