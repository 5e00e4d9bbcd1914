package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"folio/internal/cashflow"
	apperrors "folio/internal/errors"
	"folio/internal/logger"
	"folio/internal/models"
)

// summaryCache holds the summaries computed at one account revision.
type summaryCache struct {
	revision int64
	months   map[string]cashflow.Summary
}

// cashFlowService computes monthly cash-flow summaries. Results are cached
// per account against the account revision, so any committed ledger write
// invalidates them.
type cashFlowService struct {
	db       *gorm.DB
	accounts AccountServicer
	log      *zap.SugaredLogger

	group       singleflight.Group
	loadTimeout time.Duration
	mu          sync.Mutex
	cache       map[string]summaryCache
}

// NewCashFlowService creates a new CashFlowServicer.
func NewCashFlowService(db *gorm.DB, accounts AccountServicer) CashFlowServicer {
	return &cashFlowService{
		db:          db,
		accounts:    accounts,
		log:         logger.Named("cashflow"),
		loadTimeout: 30 * time.Second,
		cache:       make(map[string]summaryCache),
	}
}

// Summarize returns the cash-flow summary of the month containing month.
func (s *cashFlowService) Summarize(ctx context.Context, accountID string, month time.Time) (*cashflow.Summary, error) {
	account, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	window := cashflow.MonthWindow(month)

	if sum, ok := s.lookup(accountID, account.Revision, window.Key()); ok {
		return &sum, nil
	}

	key := fmt.Sprintf("%s|%d|%s", accountID, account.Revision, window.Key())
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		return s.compute(ctx, accountID, account.Revision, window)
	})
	if err != nil {
		return nil, err
	}

	sum := v.(cashflow.Summary)
	return &sum, nil
}

// compute loads and folds the inputs of one summary and caches the result.
// The load is shared by every caller waiting on the same key, so it runs
// detached from ctx under its own timeout.
func (s *cashFlowService) compute(ctx context.Context, accountID string, revision int64, window cashflow.Window) (cashflow.Summary, error) {
	loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.loadTimeout)
	defer cancel()

	in, err := s.load(loadCtx, accountID, window)
	if err != nil {
		return cashflow.Summary{}, err
	}
	sum := cashflow.Summarize(window.Start, in)
	for _, ex := range sum.Excluded {
		s.log.Warnw("record excluded from cash flow",
			"account_id", accountID,
			"month", sum.Month,
			"kind", ex.Kind,
			"id", ex.ID,
			"reason", ex.Reason,
		)
	}
	s.remember(accountID, revision, window.Key(), sum)
	return sum, nil
}

// load reads every input of a summary concurrently.
func (s *cashFlowService) load(ctx context.Context, accountID string, window cashflow.Window) (cashflow.Inputs, error) {
	var in cashflow.Inputs
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.db.WithContext(ctx).
			Preload("Installments", func(db *gorm.DB) *gorm.DB {
				return db.Order("number ASC")
			}).
			Where("account_id = ?", accountID).
			Find(&in.Positions).Error
	})
	g.Go(func() error {
		return s.db.WithContext(ctx).Where("account_id = ?", accountID).Find(&in.FixedEstimates).Error
	})
	g.Go(func() error {
		return s.db.WithContext(ctx).Where("account_id = ?", accountID).Find(&in.IncomeRecords).Error
	})
	// Credit card installments reach back into earlier months, so expenses
	// are not limited to the window.
	g.Go(func() error {
		return s.db.WithContext(ctx).Where("account_id = ?", accountID).Find(&in.ExpenseRecords).Error
	})
	g.Go(func() error {
		// Padded by a day on each side; Summarize applies the exact bounds.
		return s.db.WithContext(ctx).
			Where("account_id = ? AND type = ?", accountID, models.TransactionTypeDividend).
			Where("date >= ? AND date <= ?", window.Start.AddDate(0, 0, -1), window.End.AddDate(0, 0, 1)).
			Find(&in.Dividends).Error
	})

	if err := g.Wait(); err != nil {
		return cashflow.Inputs{}, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return in, nil
}

func (s *cashFlowService) lookup(accountID string, revision int64, month string) (cashflow.Summary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.cache[accountID]
	if !ok || entry.revision != revision {
		return cashflow.Summary{}, false
	}
	sum, ok := entry.months[month]
	return sum, ok
}

// remember stores sum and drops summaries of older revisions.
func (s *cashFlowService) remember(accountID string, revision int64, month string, sum cashflow.Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.cache[accountID]
	if !ok || entry.revision < revision {
		entry = summaryCache{revision: revision, months: make(map[string]cashflow.Summary)}
	}
	if entry.revision != revision {
		return
	}
	entry.months[month] = sum
	s.cache[accountID] = entry
}
