package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"account_service/internal/config"
	"account_service/internal/models"
	"account_service/internal/storage"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

const accountColumns = `id, username, normalized_username, email, pass_hash,
	new_pass_hash, external_id, verified, refresh_tokens, mail_codes, created_at`

type PostgresRepo struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, cfg *config.Config) (*PostgresRepo, error) {
	const op = "storage.postgres.New"

	dsn := dsn(cfg)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse config: %w", op, err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = time.Minute * 30

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create pool: %w", op, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: failed to ping database: %w", op, err)
	}

	if err := migrate(dsn); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: failed to migrate: %w", op, err)
	}

	return &PostgresRepo{pool: pool}, nil
}

func migrate(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	goose.SetBaseFS(migrations)

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	return goose.Up(db, "migrations")
}

func (r *PostgresRepo) SaveAccount(ctx context.Context, acc models.Account) error {
	const op = "storage.postgres.SaveAccount"

	query := `
		INSERT INTO accounts (id, username, normalized_username, email, pass_hash,
			new_pass_hash, external_id, verified, refresh_tokens, mail_codes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11);
	`

	_, err := r.pool.Exec(ctx, query,
		acc.ID,
		acc.Username,
		acc.NormalizedUsername,
		acc.Email,
		acc.PassHash,
		acc.NewPassHash,
		acc.ExternalID,
		acc.Verified,
		acc.RefreshTokens,
		acc.MailCodes,
		acc.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return storage.ErrAccountExists
		}

		return fmt.Errorf("%s: failed to save account: %w", op, err)
	}

	return nil
}

// UpdateAccount replaces the whole aggregate at single-row granularity.
func (r *PostgresRepo) UpdateAccount(ctx context.Context, id string, acc models.Account) error {
	const op = "storage.postgres.UpdateAccount"

	query := `
		UPDATE accounts
		SET username = $2, normalized_username = $3, email = $4, pass_hash = $5,
			new_pass_hash = $6, external_id = $7, verified = $8,
			refresh_tokens = $9, mail_codes = $10
		WHERE id = $1;
	`

	tag, err := r.pool.Exec(ctx, query,
		id,
		acc.Username,
		acc.NormalizedUsername,
		acc.Email,
		acc.PassHash,
		acc.NewPassHash,
		acc.ExternalID,
		acc.Verified,
		acc.RefreshTokens,
		acc.MailCodes,
	)
	if err != nil {
		return fmt.Errorf("%s: failed to update account: %w", op, err)
	}

	if tag.RowsAffected() == 0 {
		return storage.ErrAccountNotFound
	}

	return nil
}

func (r *PostgresRepo) DeleteAccount(ctx context.Context, id string) error {
	const op = "storage.postgres.DeleteAccount"

	tag, err := r.pool.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%s: failed to delete account: %w", op, err)
	}

	if tag.RowsAffected() == 0 {
		return storage.ErrAccountNotFound
	}

	return nil
}

func (r *PostgresRepo) Account(ctx context.Context, f storage.Filter) (models.Account, error) {
	const op = "storage.postgres.Account"

	var (
		conds []string
		args  []any
	)

	if f.ID != "" {
		args = append(args, f.ID)
		conds = append(conds, fmt.Sprintf("id = $%d", len(args)))
	}
	if f.Name != "" {
		args = append(args, f.Name)
		conds = append(conds, fmt.Sprintf("normalized_username = $%d", len(args)))
	}
	if f.Email != "" {
		args = append(args, f.Email)
		conds = append(conds, fmt.Sprintf("lower(email) = lower($%d)", len(args)))
	}
	if f.Verified != nil {
		args = append(args, *f.Verified)
		conds = append(conds, fmt.Sprintf("verified = $%d", len(args)))
	}

	if len(conds) == 0 {
		return models.Account{}, fmt.Errorf("%s: empty filter", op)
	}

	query := fmt.Sprintf(
		"SELECT %s FROM accounts WHERE %s LIMIT 1;",
		accountColumns,
		strings.Join(conds, " AND "),
	)

	return r.scanAccount(r.pool.QueryRow(ctx, query, args...))
}

// AccountByRefreshToken finds the token owner with a JSONB containment query
// backed by the GIN index. Used when the token index misses.
func (r *PostgresRepo) AccountByRefreshToken(ctx context.Context, token string) (models.Account, error) {
	const op = "storage.postgres.AccountByRefreshToken"

	needle, err := json.Marshal([]map[string]string{{"token": token}})
	if err != nil {
		return models.Account{}, fmt.Errorf("%s: %w", op, err)
	}

	query := fmt.Sprintf(
		"SELECT %s FROM accounts WHERE refresh_tokens @> $1 LIMIT 1;",
		accountColumns,
	)

	return r.scanAccount(r.pool.QueryRow(ctx, query, string(needle)))
}

func (r *PostgresRepo) scanAccount(row pgx.Row) (models.Account, error) {
	var acc models.Account

	err := row.Scan(
		&acc.ID,
		&acc.Username,
		&acc.NormalizedUsername,
		&acc.Email,
		&acc.PassHash,
		&acc.NewPassHash,
		&acc.ExternalID,
		&acc.Verified,
		&acc.RefreshTokens,
		&acc.MailCodes,
		&acc.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Account{}, storage.ErrAccountNotFound
		}

		return models.Account{}, err
	}

	return acc, nil
}

func (r *PostgresRepo) Close() {
	r.pool.Close()
}

// * dsn формирует конфигурацию базы данных.
func dsn(cfg *config.Config) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s database=%s sslmode=%s",
		cfg.Postgres.Host,
		cfg.Postgres.Port,
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.DBName,
		cfg.Postgres.SSLMode,
	)
}
