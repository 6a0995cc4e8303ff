package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hackgods/clinic-appointments/internal/apperr"
	"github.com/hackgods/clinic-appointments/pkg/logging"
)

// ErrWriteConflict is returned by stores that detect a concurrent write
// without going through Postgres.
var ErrWriteConflict = errors.New("write conflict")

const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateUniqueViolation      = "23505"
)

// Queryable is satisfied by *pgxpool.Pool, pgx.Tx and pgxmock.
type Queryable interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Pool is a Queryable that can open transactions.
type Pool interface {
	Queryable
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// Transactor runs fn as one unit of work. fn may be invoked more than once
// and must re-read any state it depends on.
type Transactor interface {
	RunInTx(ctx context.Context, op string, fn func(ctx context.Context) error) error
}

type txKey struct{}

func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

func TxFromContext(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(pgx.Tx)
	return tx, ok
}

// Conn returns the transaction carried by ctx, or fallback when there is none.
func Conn(ctx context.Context, fallback Queryable) Queryable {
	if tx, ok := TxFromContext(ctx); ok {
		return tx
	}
	return fallback
}

func IsWriteConflict(err error) bool {
	if errors.Is(err, ErrWriteConflict) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == sqlStateSerializationFailure || pgErr.Code == sqlStateDeadlockDetected
	}
	return false
}

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == sqlStateUniqueViolation
}

// TxObserver receives transaction lifecycle events. Implementations must be
// safe for concurrent use.
type TxObserver interface {
	TxStarted(ctx context.Context, op string)
	TxRetried(ctx context.Context, op string, attempt int, err error)
	TxCommitted(ctx context.Context, op string, attempts int, elapsed time.Duration)
	TxFailed(ctx context.Context, op string, err error, elapsed time.Duration)
}

type noopObserver struct{}

func (noopObserver) TxStarted(context.Context, string) {}
func (noopObserver) TxRetried(context.Context, string, int, error) {}
func (noopObserver) TxCommitted(context.Context, string, int, time.Duration) {}
func (noopObserver) TxFailed(context.Context, string, error, time.Duration) {}

// Retry runs attempt until it succeeds, fails with something other than a
// write conflict, or maxAttempts is reached.
func Retry(ctx context.Context, op string, maxAttempts int, obs TxObserver, attempt func(ctx context.Context) error) error {
	if obs == nil {
		obs = noopObserver{}
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	start := time.Now()
	obs.TxStarted(ctx, op)

	var lastErr error
	for i := 1; i <= maxAttempts; i++ {
		err := attempt(ctx)
		if err == nil {
			obs.TxCommitted(ctx, op, i, time.Since(start))
			return nil
		}
		if !IsWriteConflict(err) {
			obs.TxFailed(ctx, op, err, time.Since(start))
			return err
		}

		lastErr = err
		if ctxErr := ctx.Err(); ctxErr != nil {
			obs.TxFailed(ctx, op, ctxErr, time.Since(start))
			return fmt.Errorf("%s: %w", op, ctxErr)
		}
		if i < maxAttempts {
			obs.TxRetried(ctx, op, i, err)
		}
	}

	obs.TxFailed(ctx, op, apperr.ErrTxExhausted, time.Since(start))
	return fmt.Errorf("%s after %d attempts: %w (last error: %v)", op, maxAttempts, apperr.ErrTxExhausted, lastErr)
}

type TxManager struct {
	pool        Pool
	maxAttempts int
	observer    TxObserver
	logger      *logging.Logger
}

func NewTxManager(pool Pool, maxAttempts int, observer TxObserver, logger *logging.Logger) *TxManager {
	if observer == nil {
		observer = noopObserver{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &TxManager{
		pool:        pool,
		maxAttempts: maxAttempts,
		observer:    observer,
		logger:      logger,
	}
}

// RunInTx runs fn inside a SERIALIZABLE transaction stored in ctx. Calls made
// while a transaction is already open join it instead of nesting.
func (m *TxManager) RunInTx(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if _, ok := TxFromContext(ctx); ok {
		return fn(ctx)
	}

	return Retry(ctx, op, m.maxAttempts, m.observer, func(ctx context.Context) error {
		err := m.attempt(ctx, fn)
		if err != nil && IsWriteConflict(err) {
			m.logger.Warn("transaction write conflict", "op", op, "error", err)
		}
		return err
	})
}

func (m *TxManager) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(WithTx(ctx, tx)); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			m.logger.Error("rollback failed", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
