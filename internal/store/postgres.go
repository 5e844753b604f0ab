package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/wudi/petshop/internal/config"
	"github.com/wudi/petshop/internal/logging"
	"go.uber.org/zap"
)

const (
	readinessQuery = "SELECT 1 + 1"

	schemaQuery = `CREATE TABLE IF NOT EXISTS pets (
	id   BIGSERIAL PRIMARY KEY,
	data JSONB NOT NULL
)`
)

// Postgres is a PetStore backed by a pgx connection pool. Pets are kept as
// JSONB documents keyed by id.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to cfg.DSN, retrying with exponential backoff up to
// cfg.ConnectAttempts times, and creates the schema.
func OpenPostgres(ctx context.Context, cfg config.PostgresConfig) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = 0

	var pool *pgxpool.Pool
	connect := func() error {
		p, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return backoff.Permanent(err)
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return err
		}
		pool = p
		return nil
	}
	notify := func(err error, wait time.Duration) {
		logging.Warn("Postgres not reachable, retrying",
			zap.Error(err),
			zap.Duration("wait", wait),
		)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, cfg.ConnectAttempts), ctx)
	if err := backoff.RetryNotify(connect, policy, notify); err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, schemaQuery); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	logging.Info("Connected to postgres",
		zap.String("host", poolCfg.ConnConfig.Host),
		zap.Int32("max_conns", poolCfg.MaxConns),
	)
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Create(ctx context.Context, pet Pet) (Pet, error) {
	if pet.ID == 0 {
		err := s.pool.QueryRow(ctx, "SELECT nextval(pg_get_serial_sequence('pets', 'id'))").Scan(&pet.ID)
		if err != nil {
			return Pet{}, fmt.Errorf("allocate pet id: %w", err)
		}
	}
	data, err := json.Marshal(pet)
	if err != nil {
		return Pet{}, err
	}
	_, err = s.pool.Exec(ctx,
		"INSERT INTO pets (id, data) VALUES ($1, $2::jsonb) ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data",
		pet.ID, string(data))
	if err != nil {
		return Pet{}, fmt.Errorf("insert pet %d: %w", pet.ID, err)
	}
	return pet, nil
}

func (s *Postgres) Update(ctx context.Context, pet Pet) (Pet, error) {
	data, err := json.Marshal(pet)
	if err != nil {
		return Pet{}, err
	}
	tag, err := s.pool.Exec(ctx, "UPDATE pets SET data = $2::jsonb WHERE id = $1", pet.ID, string(data))
	if err != nil {
		return Pet{}, fmt.Errorf("update pet %d: %w", pet.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return Pet{}, ErrNotFound
	}
	return pet, nil
}

func (s *Postgres) FindByStatus(ctx context.Context, statuses []Status) ([]Pet, error) {
	values := make([]string, len(statuses))
	for i, st := range statuses {
		values[i] = string(st)
	}
	return s.query(ctx, "SELECT data FROM pets WHERE data->>'status' = ANY($1) ORDER BY id", values)
}

func (s *Postgres) FindByTag(ctx context.Context, tags []string) ([]Pet, error) {
	return s.query(ctx, `SELECT data FROM pets
WHERE EXISTS (
	SELECT 1 FROM jsonb_array_elements(COALESCE(data->'tags', '[]'::jsonb)) t
	WHERE t->>'name' = ANY($1)
) ORDER BY id`, tags)
}

func (s *Postgres) query(ctx context.Context, sql string, args ...any) ([]Pet, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query pets: %w", err)
	}
	raw, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("scan pets: %w", err)
	}

	pets := make([]Pet, 0, len(raw))
	for _, data := range raw {
		var p Pet
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode pet: %w", err)
		}
		pets = append(pets, p)
	}
	return pets, nil
}

// Ping runs a trivial query on a pooled connection.
func (s *Postgres) Ping(ctx context.Context) error {
	var n int
	if err := s.pool.QueryRow(ctx, readinessQuery).Scan(&n); err != nil {
		return fmt.Errorf("postgres readiness: %w", err)
	}
	if n != 2 {
		return errors.New("postgres readiness: unexpected result")
	}
	return nil
}

func (s *Postgres) Close() {
	s.pool.Close()
}

// Collector exposes pool statistics as gauges.
func (s *Postgres) Collector(namespace string) prometheus.Collector {
	return newPoolCollector(namespace, s.pool)
}

type poolCollector struct {
	pool *pgxpool.Pool

	acquiredDesc *prometheus.Desc
	idleDesc     *prometheus.Desc
	totalDesc    *prometheus.Desc
	maxDesc      *prometheus.Desc
}

func newPoolCollector(namespace string, pool *pgxpool.Pool) *poolCollector {
	name := func(n string) string { return prometheus.BuildFQName(namespace, "", n) }
	return &poolCollector{
		pool:         pool,
		acquiredDesc: prometheus.NewDesc(name("pgxpool_acquired_conns"), "Connections currently acquired from the pool.", nil, nil),
		idleDesc:     prometheus.NewDesc(name("pgxpool_idle_conns"), "Idle connections in the pool.", nil, nil),
		totalDesc:    prometheus.NewDesc(name("pgxpool_total_conns"), "Total connections in the pool.", nil, nil),
		maxDesc:      prometheus.NewDesc(name("pgxpool_max_conns"), "Configured maximum pool size.", nil, nil),
	}
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.acquiredDesc
	ch <- c.idleDesc
	ch <- c.totalDesc
	ch <- c.maxDesc
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	stat := c.pool.Stat()
	if stat == nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(c.acquiredDesc, prometheus.GaugeValue, float64(stat.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(c.idleDesc, prometheus.GaugeValue, float64(stat.IdleConns()))
	ch <- prometheus.MustNewConstMetric(c.totalDesc, prometheus.GaugeValue, float64(stat.TotalConns()))
	ch <- prometheus.MustNewConstMetric(c.maxDesc, prometheus.GaugeValue, float64(stat.MaxConns()))
}
