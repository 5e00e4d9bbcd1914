package services

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"folio/internal/config"
	"folio/internal/dashboard"
	apperrors "folio/internal/errors"
	"folio/internal/logger"
	"folio/internal/models"
)

// errStaleWrite signals that a row changed between read and write. It never
// leaves this package: the write is retried, and exhaustion surfaces as
// TRANSACTION_CONFLICT.
var errStaleWrite = errors.New("stale write")

// errNoop lets an atomic function abort without writing anything.
var errNoop = errors.New("no change")

// LedgerOptions tunes the optimistic write loop.
type LedgerOptions struct {
	MaxRetries uint64
	RetryBase  time.Duration
	TxTimeout  time.Duration
}

// DefaultLedgerOptions returns the defaults used when no config is loaded.
func DefaultLedgerOptions() LedgerOptions {
	return LedgerOptions{MaxRetries: 5, RetryBase: 10 * time.Millisecond, TxTimeout: 5 * time.Second}
}

// LedgerOptionsFromConfig reads the ledger settings from the app config.
func LedgerOptionsFromConfig(cfg *config.Config) LedgerOptions {
	return LedgerOptions{
		MaxRetries: cfg.LedgerMaxRetries,
		RetryBase:  cfg.LedgerRetryBase,
		TxTimeout:  cfg.LedgerTxTimeout,
	}
}

// journal appends transactions to an account and keeps the account's
// derived state (dashboard aggregate, revision) in step, all inside the
// caller's database transaction.
type journal struct {
	db   *gorm.DB
	opts LedgerOptions
	log  *zap.SugaredLogger
}

func newJournal(db *gorm.DB, opts LedgerOptions) *journal {
	if opts.RetryBase <= 0 {
		opts.RetryBase = DefaultLedgerOptions().RetryBase
	}
	if opts.TxTimeout <= 0 {
		opts.TxTimeout = DefaultLedgerOptions().TxTimeout
	}
	return &journal{db: db, opts: opts, log: logger.Named("ledger")}
}

// retry runs fn until it succeeds, fails with an error other than
// errStaleWrite, or runs out of attempts. The whole loop is bounded by the
// configured transaction timeout.
func (j *journal) retry(ctx context.Context, op, accountID string, fn func(ctx context.Context, attempt int) error) error {
	ctx, cancel := context.WithTimeout(ctx, j.opts.TxTimeout)
	defer cancel()

	backoff := retry.WithMaxRetries(j.opts.MaxRetries, retry.NewExponential(j.opts.RetryBase))
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := fn(ctx, attempt)
		if errors.Is(err, errStaleWrite) {
			j.log.Warnw("optimistic write conflict, retrying",
				"op", op,
				"account_id", accountID,
				"attempt", attempt,
			)
			return retry.RetryableError(err)
		}
		return err
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, errStaleWrite):
		j.log.Errorw("optimistic write retries exhausted",
			"op", op,
			"account_id", accountID,
			"attempts", attempt,
		)
		return apperrors.Wrap(apperrors.ErrTransactionConflict, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return err
}

// run executes fn in a database transaction and appends the transactions it
// returns, retrying the whole unit on a stale write.
func (j *journal) run(ctx context.Context, op, accountID string, fn func(tx *gorm.DB) ([]models.Transaction, error)) ([]models.Transaction, error) {
	var written []models.Transaction
	err := j.retry(ctx, op, accountID, func(ctx context.Context, attempt int) error {
		return j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			txs, err := fn(tx)
			if err != nil {
				return err
			}
			if err := j.append(tx, accountID, txs); err != nil {
				return err
			}
			written = txs
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	j.log.Debugw("ledger write committed", "op", op, "account_id", accountID, "transactions", len(written))
	return written, nil
}

// append stores txs, folds them into the account's dashboard aggregate and
// bumps the account revision. It must be called inside a transaction.
func (j *journal) append(tx *gorm.DB, accountID string, txs []models.Transaction) error {
	for i := range txs {
		if txs[i].ReversesID == "" {
			continue
		}
		var count int64
		if err := tx.Model(&models.Transaction{}).Where("reverses_id = ?", txs[i].ReversesID).Count(&count).Error; err != nil {
			return apperrors.Wrap(apperrors.ErrInternalServer, err)
		}
		if count > 0 {
			return apperrors.ErrAlreadyReversed
		}
	}

	if len(txs) > 0 {
		for i := range txs {
			txs[i].AccountID = accountID
		}
		if err := tx.Create(&txs).Error; err != nil {
			return apperrors.Wrap(apperrors.ErrInternalServer, err)
		}

		agg, err := loadAggregate(tx, accountID)
		if err != nil {
			return err
		}
		expected := agg.Version
		for _, t := range txs {
			agg = dashboard.Project(agg, t)
		}
		if err := saveAggregate(tx, agg, expected); err != nil {
			return err
		}
	}

	res := tx.Model(&models.Account{}).Where("id = ?", accountID).
		UpdateColumn("revision", gorm.Expr("revision + 1"))
	if res.Error != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.ErrAccountNotFound
	}
	return nil
}

// loadAggregate returns the account's aggregate, creating the zero row on
// first use.
func loadAggregate(db *gorm.DB, accountID string) (models.DashboardAggregate, error) {
	zero := dashboard.Zero(accountID)
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&zero).Error; err != nil {
		return models.DashboardAggregate{}, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	var agg models.DashboardAggregate
	if err := db.Where("account_id = ?", accountID).First(&agg).Error; err != nil {
		return models.DashboardAggregate{}, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return agg, nil
}

// saveAggregate writes agg if its version is still expected.
func saveAggregate(db *gorm.DB, agg models.DashboardAggregate, expected int64) error {
	res := db.Model(&models.DashboardAggregate{}).
		Where("account_id = ? AND version = ?", agg.AccountID, expected).
		Updates(map[string]interface{}{
			"total_invested":     agg.TotalInvested,
			"total_realized_pnl": agg.TotalRealizedPnL,
			"total_cash_balance": agg.TotalCashBalance,
			"total_matured_debt": agg.TotalMaturedDebt,
			"updated_at":         agg.UpdatedAt,
			"rebuilt_at":         agg.RebuiltAt,
			"version":            expected + 1,
		})
	if res.Error != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, res.Error)
	}
	if res.RowsAffected == 0 {
		return errStaleWrite
	}
	return nil
}
