package members

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver with database/sql
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

type PostgresConfig struct {
	Logger  *slog.Logger
	ConnStr string
}

func (cfg *PostgresConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.ConnStr == "" {
		return errors.New("connection string is required")
	}
	return nil
}

// PostgresProvider reads members and linked wallets from Postgres.
type PostgresProvider struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewPostgresProvider(ctx context.Context, cfg PostgresConfig) (*PostgresProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	poolConfig.MaxConns = 10

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return &PostgresProvider{log: cfg.Logger, pool: pool}, nil
}

// Migrate applies the members schema with goose.
func Migrate(connStr string) error {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return fmt.Errorf("failed to open postgres: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (p *PostgresProvider) Close() {
	p.pool.Close()
}

func (p *PostgresProvider) ListMembers(ctx context.Context) ([]Member, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT m.id, m.score, w.address, w.is_primary
		FROM members m
		LEFT JOIN member_wallets w ON w.member_id = m.id
		ORDER BY m.id, w.is_primary DESC, w.address
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*Member)
	var order []string
	for rows.Next() {
		var (
			id        string
			score     float64
			address   *string
			isPrimary *bool
		)
		if err := rows.Scan(&id, &score, &address, &isPrimary); err != nil {
			return nil, fmt.Errorf("failed to scan member row: %w", err)
		}
		m, ok := byID[id]
		if !ok {
			m = &Member{ID: id, Score: score}
			byID[id] = m
			order = append(order, id)
		}
		if address != nil {
			m.Wallets = append(m.Wallets, Wallet{
				Address: *address,
				Primary: isPrimary != nil && *isPrimary,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate member rows: %w", err)
	}

	members := make([]Member, 0, len(order))
	for _, id := range order {
		members = append(members, *byID[id])
	}
	p.log.Debug("members: listed roster", "count", len(members))
	return members, nil
}
