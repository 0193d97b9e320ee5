package witness

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// PostgresStore persists the chain in the audit_blocks and
// transaction_witnesses tables created by migrations/.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed witness store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const blockColumns = `height, merkle_root, previous_root, strategy, transaction_count, sealed_at`

func scanBlock(row interface{ Scan(...any) error }) (*Block, error) {
	var b Block
	if err := row.Scan(&b.Height, &b.Root, &b.PrevRoot, &b.Strategy, &b.TransactionCount, &b.SealedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *PostgresStore) LatestBlock(ctx context.Context) (*Block, error) {
	b, err := scanBlock(s.db.QueryRowContext(ctx,
		`SELECT `+blockColumns+` FROM audit_blocks ORDER BY height DESC LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest block: %w", err)
	}
	return b, nil
}

func (s *PostgresStore) AppendBlock(ctx context.Context, b *Block, ws []*Witness) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO audit_blocks (`+blockColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, b.Height, b.Root, b.PrevRoot, string(b.Strategy), b.TransactionCount, b.SealedAt); err != nil {
		return fmt.Errorf("insert block: %w", err)
	}
	for _, w := range ws {
		if err := upsertWitness(ctx, tx, w); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) SaveWitness(ctx context.Context, w *Witness) error {
	return upsertWitness(ctx, s.db, w)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertWitness(ctx context.Context, db execer, w *Witness) error {
	proof, err := json.Marshal(w.Proof)
	if err != nil {
		return fmt.Errorf("marshal proof: %w", err)
	}
	sigs, err := json.Marshal(w.Signatures)
	if err != nil {
		return fmt.Errorf("marshal signatures: %w", err)
	}
	var height sql.NullInt64
	if w.BlockHeight > 0 {
		height = sql.NullInt64{Int64: w.BlockHeight, Valid: true}
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO transaction_witnesses
			(transaction_id, from_account, to_account, amount, event_ts, event_hash, strategy, status,
			 block_height, merkle_root, proof, signed_payload, signatures, created_at, sealed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (transaction_id) DO UPDATE SET
			status = EXCLUDED.status,
			block_height = EXCLUDED.block_height,
			merkle_root = EXCLUDED.merkle_root,
			proof = EXCLUDED.proof,
			signed_payload = EXCLUDED.signed_payload,
			signatures = EXCLUDED.signatures,
			sealed_at = EXCLUDED.sealed_at
	`,
		w.Event.ID, w.Event.From, w.Event.To, w.Event.Amount.String(), w.Event.Timestamp,
		w.EventHash, string(w.Strategy), string(w.Status),
		height, w.MerkleRoot, proof, w.SignedPayload, sigs, w.CreatedAt, w.SealedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert witness %s: %w", w.Event.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetWitness(ctx context.Context, transactionID string) (*Witness, error) {
	var (
		w           Witness
		amount      string
		height      sql.NullInt64
		proof, sigs []byte
		sealedAt    sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT transaction_id, from_account, to_account, amount, event_ts, event_hash, strategy, status,
		       block_height, merkle_root, proof, signed_payload, signatures, created_at, sealed_at
		FROM transaction_witnesses
		WHERE transaction_id = $1
	`, transactionID).Scan(
		&w.Event.ID, &w.Event.From, &w.Event.To, &amount, &w.Event.Timestamp, &w.EventHash,
		&w.Strategy, &w.Status, &height, &w.MerkleRoot, &proof, &w.SignedPayload, &sigs,
		&w.CreatedAt, &sealedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get witness: %w", err)
	}

	if w.Event.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("decode amount: %w", err)
	}
	w.Event.Timestamp = w.Event.Timestamp.UTC()
	w.BlockHeight = height.Int64
	if sealedAt.Valid {
		t := sealedAt.Time.UTC()
		w.SealedAt = &t
	}
	if err := json.Unmarshal(proof, &w.Proof); err != nil {
		return nil, fmt.Errorf("decode proof: %w", err)
	}
	if err := json.Unmarshal(sigs, &w.Signatures); err != nil {
		return nil, fmt.Errorf("decode signatures: %w", err)
	}
	return &w, nil
}

func (s *PostgresStore) GetBlock(ctx context.Context, height int64) (*Block, error) {
	b, err := scanBlock(s.db.QueryRowContext(ctx,
		`SELECT `+blockColumns+` FROM audit_blocks WHERE height = $1`, height))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get block: %w", err)
	}
	return b, nil
}

func (s *PostgresStore) ListBlocks(ctx context.Context, limit int) ([]*Block, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+blockColumns+` FROM audit_blocks ORDER BY height DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Block
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
