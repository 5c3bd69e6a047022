package principal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"gatehouse/internal/authz"
	"gatehouse/internal/sentinel"
)

// PostgresStore persists principals in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed principal store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) ByID(ctx context.Context, id int64) (*Principal, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, username, password_hash, role FROM principals WHERE id = $1`, id)
	return scanPrincipal(row)
}

func (s *PostgresStore) ByUsername(ctx context.Context, username string) (*Principal, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, username, password_hash, role FROM principals WHERE username = $1`, username)
	return scanPrincipal(row)
}

func (s *PostgresStore) Create(ctx context.Context, p *Principal) (*Principal, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO principals (email, username, password_hash, role)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		p.Email, p.Username, p.PasswordHash, string(p.Role),
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("principal %q: %w", p.Username, sentinel.ErrConflict)
		}
		return nil, fmt.Errorf("create principal: %w", err)
	}

	out := *p
	out.ID = id
	return &out, nil
}

func scanPrincipal(row *sql.Row) (*Principal, error) {
	var p Principal
	var role string
	if err := row.Scan(&p.ID, &p.Email, &p.Username, &p.PasswordHash, &role); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("principal: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("scan principal: %w", err)
	}
	p.Role = authz.Role(role)
	return &p, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
