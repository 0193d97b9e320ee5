package risk

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/mbd888/sentinel/internal/pagination"
)

// PostgresStore persists assessments in the risk_assessments table
// created by migrations/.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed assessment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Record(ctx context.Context, rec *Record) error {
	breakdown, err := json.Marshal(rec.Breakdown)
	if err != nil {
		return fmt.Errorf("marshal breakdown: %w", err)
	}
	reasons, err := json.Marshal(rec.Reasons)
	if err != nil {
		return fmt.Errorf("marshal reasons: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO risk_assessments
			(id, account, counterparty, amount, score, decision, strategy, breakdown, reasons, evaluated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		rec.ID,
		rec.Account,
		rec.Counterparty,
		rec.Amount,
		rec.Score,
		string(rec.Decision),
		string(rec.Strategy),
		breakdown,
		reasons,
		rec.EvaluatedAt,
	)
	if err != nil {
		return fmt.Errorf("record assessment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByAccount(ctx context.Context, account string, before *pagination.Cursor, limit int) ([]*Record, error) {
	query := `
		SELECT id, account, counterparty, amount::text, score, decision, strategy, breakdown, reasons, evaluated_at
		FROM risk_assessments
		WHERE account = $1`
	args := []any{account}
	if before != nil {
		query += ` AND (evaluated_at, id) < ($2, $3)`
		args = append(args, before.At, before.ID)
	}
	query += fmt.Sprintf(` ORDER BY evaluated_at DESC, id DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list assessments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Record
	for rows.Next() {
		var (
			r                  Record
			breakdown, reasons []byte
		)
		if err := rows.Scan(&r.ID, &r.Account, &r.Counterparty, &r.Amount, &r.Score,
			&r.Decision, &r.Strategy, &breakdown, &reasons, &r.EvaluatedAt); err != nil {
			return nil, fmt.Errorf("scan assessment: %w", err)
		}
		if err := json.Unmarshal(breakdown, &r.Breakdown); err != nil {
			return nil, fmt.Errorf("decode breakdown: %w", err)
		}
		if err := json.Unmarshal(reasons, &r.Reasons); err != nil {
			return nil, fmt.Errorf("decode reasons: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// PingContext lets the store act as a health.Pinger.
func (s *PostgresStore) PingContext(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
