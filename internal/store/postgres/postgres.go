// Package postgres implements store.Store on PostgreSQL through the pgx database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/pkg/errors"

	"github.com/manifest-network/blockledger/internal/models"
	"github.com/manifest-network/blockledger/internal/store"
)

const uniqueViolation = "23505"

// maxBindParams is the PostgreSQL limit on bind parameters in one statement.
// Bulk writes above it are split into several statements in one transaction.
var maxBindParams = 65535

// Options tunes the connection pool. Zero values keep the database/sql defaults.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is a PostgreSQL backed store.Store.
type Store struct {
	db *sql.DB
	q  querier
	tx bool
}

var _ store.Store = (*Store)(nil)

// Open connects to the database at dsn and verifies the connection.
func Open(ctx context.Context, dsn string, opts Options) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	slog.Info("Connected to PostgreSQL")
	return New(db), nil
}

// New wraps an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db, q: db}
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	row := s.q.QueryRowContext(ctx, `SELECT id, inputs, outputs FROM transactions WHERE id = $1`, id)

	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(store.ErrNotFound, "transaction %s", id)
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to get transaction %s", id)
	}
	return tx, nil
}

func (s *Store) ScanTransactions(ctx context.Context, order store.ScanOrder, limit, offset int) ([]*models.Transaction, error) {
	var orderBy string
	switch order {
	case store.OrderID:
		orderBy = "id ASC"
	case store.OrderAcceptance:
		orderBy = "height ASC, position ASC"
	default:
		return nil, errors.Errorf("unknown scan order %q", order)
	}

	rows, err := s.q.QueryContext(ctx,
		`SELECT id, inputs, outputs FROM transactions ORDER BY `+orderBy+` LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to scan transactions")
	}
	defer rows.Close()

	txs := make([]*models.Transaction, 0, limit)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, errors.WithMessage(err, "failed to read transaction row")
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WithMessage(err, "failed to iterate transactions")
	}
	return txs, nil
}

func (s *Store) InsertTransactions(ctx context.Context, height uint64, txs []models.Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	const cols = 5
	return s.chunked(ctx, len(txs), maxBindParams/cols, func(q querier, lo, hi int) error {
		values := make([]string, 0, hi-lo)
		args := make([]any, 0, (hi-lo)*cols)
		for i := lo; i < hi; i++ {
			tx := txs[i]
			inputs, err := encodeJSON(tx.Inputs, []models.Input{})
			if err != nil {
				return errors.WithMessagef(err, "failed to encode inputs of %s", tx.ID)
			}
			outputs, err := encodeJSON(tx.Outputs, []models.Output{})
			if err != nil {
				return errors.WithMessagef(err, "failed to encode outputs of %s", tx.ID)
			}
			n := len(args)
			values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5))
			args = append(args, tx.ID, int64(height), i, inputs, outputs)
		}

		query := `INSERT INTO transactions (id, height, position, inputs, outputs) VALUES ` + strings.Join(values, ", ")
		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			return wrapWriteErr(err, "failed to insert transactions")
		}
		return nil
	})
}

func (s *Store) DeleteTransactions(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.chunked(ctx, len(ids), maxBindParams, func(q querier, lo, hi int) error {
		args := make([]any, 0, hi-lo)
		for _, id := range ids[lo:hi] {
			args = append(args, id)
		}
		query := `DELETE FROM transactions WHERE id IN (` + placeholders(len(args)) + `)`
		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			return errors.WithMessage(err, "failed to delete transactions")
		}
		return nil
	})
}

func (s *Store) CountTransactions(ctx context.Context) (int64, error) {
	var n int64
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&n); err != nil {
		return 0, errors.WithMessage(err, "failed to count transactions")
	}
	return n, nil
}

func (s *Store) GetLastBlock(ctx context.Context) (*models.StoredBlock, error) {
	row := s.q.QueryRowContext(ctx, `SELECT id, height, transactions FROM blocks ORDER BY height DESC LIMIT 1`)
	b, err := scanBlock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WithMessage(err, "failed to get last block")
	}
	return b, nil
}

func (s *Store) GetBlocksAboveHeight(ctx context.Context, height uint64) ([]*models.StoredBlock, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, height, transactions FROM blocks WHERE height > $1 ORDER BY height DESC`,
		int64(height))
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to get blocks above height %d", height)
	}
	defer rows.Close()

	blocks := make([]*models.StoredBlock, 0)
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, errors.WithMessage(err, "failed to read block row")
		}
		blocks = append(blocks, b)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WithMessage(err, "failed to iterate blocks")
	}
	return blocks, nil
}

func (s *Store) InsertBlock(ctx context.Context, block *models.StoredBlock) error {
	ids, err := encodeJSON(block.TxIDs, []string{})
	if err != nil {
		return errors.WithMessagef(err, "failed to encode transactions of block %d", block.Height)
	}
	_, err = s.q.ExecContext(ctx,
		`INSERT INTO blocks (id, height, transactions) VALUES ($1, $2, $3)`,
		block.ID, int64(block.Height), ids)
	if err != nil {
		return wrapWriteErr(err, fmt.Sprintf("failed to insert block %d", block.Height))
	}
	return nil
}

func (s *Store) DeleteBlocks(ctx context.Context, heights []uint64) error {
	if len(heights) == 0 {
		return nil
	}
	return s.chunked(ctx, len(heights), maxBindParams, func(q querier, lo, hi int) error {
		args := make([]any, 0, hi-lo)
		for _, h := range heights[lo:hi] {
			args = append(args, int64(h))
		}
		query := `DELETE FROM blocks WHERE height IN (` + placeholders(len(args)) + `)`
		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			return errors.WithMessage(err, "failed to delete blocks")
		}
		return nil
	})
}

// ExecTx runs fn inside a database transaction. Nested calls join the outer transaction.
func (s *Store) ExecTx(ctx context.Context, fn func(store.Store) error) error {
	if s.tx {
		return fn(s)
	}

	return s.withTx(ctx, func(tx *Store) error { return fn(tx) })
}

// chunked calls fn over [lo, hi) windows of at most size items. More than one
// window runs inside a single database transaction.
func (s *Store) chunked(ctx context.Context, n, size int, fn func(q querier, lo, hi int) error) error {
	size = max(size, 1)
	if n <= size {
		return fn(s.q, 0, n)
	}

	run := func(tx *Store) error {
		for lo := 0; lo < n; lo += size {
			if err := fn(tx.q, lo, min(lo+size, n)); err != nil {
				return err
			}
		}
		return nil
	}
	if s.tx {
		return run(s)
	}
	return s.withTx(ctx, run)
}

func (s *Store) withTx(ctx context.Context, fn func(*Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WithMessage(err, "failed to begin transaction")
	}

	if err := fn(&Store{db: s.db, q: sqlTx, tx: true}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			slog.Error("Failed to roll back database transaction", "error", rbErr)
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return errors.WithMessage(err, "failed to commit transaction")
	}
	return nil
}

func (s *Store) Close() error {
	if s.tx {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var (
		tx              models.Transaction
		inputs, outputs []byte
	)
	if err := row.Scan(&tx.ID, &inputs, &outputs); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(inputs, &tx.Inputs); err != nil {
		return nil, errors.Wrapf(err, "failed to decode inputs of %s", tx.ID)
	}
	if err := json.Unmarshal(outputs, &tx.Outputs); err != nil {
		return nil, errors.Wrapf(err, "failed to decode outputs of %s", tx.ID)
	}
	return &tx, nil
}

func scanBlock(row rowScanner) (*models.StoredBlock, error) {
	var (
		b      models.StoredBlock
		height int64
		ids    []byte
	)
	if err := row.Scan(&b.ID, &height, &ids); err != nil {
		return nil, err
	}
	b.Height = uint64(height)
	if err := json.Unmarshal(ids, &b.TxIDs); err != nil {
		return nil, errors.Wrapf(err, "failed to decode transactions of block %d", b.Height)
	}
	return &b, nil
}

// encodeJSON encodes v, substituting empty for a nil slice so the column never holds null.
func encodeJSON[T any](v []T, empty []T) (string, error) {
	if v == nil {
		v = empty
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func placeholders(n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = fmt.Sprintf("$%d", i+1)
	}
	return strings.Join(ph, ", ")
}

func wrapWriteErr(err error, msg string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return errors.Wrap(fmt.Errorf("%w: %s", store.ErrConflict, pgErr.Detail), msg)
	}
	return errors.WithMessage(err, msg)
}
