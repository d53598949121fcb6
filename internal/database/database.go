// Package database wires the Postgres connection pool (Submission Store
// backing store) and exposes the submission repository built on top of it.
package database

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/itstheanurag/executioner/internal/config"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const DatabasePingTimeout = 10

type Database struct {
	Pool *pgxpool.Pool
	log  *zerolog.Logger
}

type multiTracer struct {
	tracers []any
}

func (mt *multiTracer) TraceQueryStart(
	ctx context.Context,
	conn *pgx.Conn,
	data pgx.TraceQueryStartData,
) context.Context {
	for _, tracer := range mt.tracers {
		if t, ok := tracer.(interface {
			TraceQueryStart(
				ctx context.Context,
				conn *pgx.Conn,
				data pgx.TraceQueryStartData,
			) context.Context
		}); ok {
			ctx = t.TraceQueryStart(ctx, conn, data)
		}
	}

	return ctx
}

func (mt *multiTracer) TraceQueryEnd(
	ctx context.Context,
	conn *pgx.Conn,
	data pgx.TraceQueryEndData,
) {
	for _, tracer := range mt.tracers {
		if t, ok := tracer.(interface {
			TraceQueryEnd(
				ctx context.Context,
				conn *pgx.Conn,
				data pgx.TraceQueryEndData,
			)
		}); ok {
			t.TraceQueryEnd(ctx, conn, data)
		}
	}
}

type queryStartKey struct{}

// queryLogTracer is the one real tracer multiTracer composes: it turns every
// query round trip into a zerolog event at debug level (error level on
// failure), the same sink the rest of the stack logs to.
type queryLogTracer struct {
	log *zerolog.Logger
}

func (t *queryLogTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryStartKey{}, time.Now())
}

func (t *queryLogTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	var ev *zerolog.Event
	if data.Err != nil {
		ev = t.log.Error().Err(data.Err)
	} else {
		ev = t.log.Debug()
	}
	if start, ok := ctx.Value(queryStartKey{}).(time.Time); ok {
		ev = ev.Dur("duration", time.Since(start))
	}
	ev.Msg("database query executed")
}

func New(conf *config.Config, log *zerolog.Logger) (*Database, error) {
	host := net.JoinHostPort(conf.Db.Host, strconv.Itoa(conf.Db.Port))
	encodedPassword := url.QueryEscape(conf.Db.Password)

	sslMode := conf.Db.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=%s",
		conf.Db.User,
		encodedPassword,
		host,
		conf.Db.Name,
		sslMode,
	)

	pgxPoolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pgxPoolConfig.ConnConfig.RuntimeParams["application_name"] = "executioner"
	pgxPoolConfig.ConnConfig.Tracer = &multiTracer{tracers: []any{&queryLogTracer{log: log}}}

	pgxPoolConfig.ConnConfig.DialFunc = func(ctx context.Context, network, addr string) (net.Conn, error) {
		dialer := &net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}
		return dialer.DialContext(ctx, network, addr)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), pgxPoolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), DatabasePingTimeout*time.Second)
	defer cancel()

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("database connection established")

	return &Database{Pool: pool, log: log}, nil
}

func (db *Database) Close() error {
	db.log.Info().Msg("closing database connection pool")
	db.Pool.Close()
	return nil
}
