package services

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"folio/internal/dashboard"
	apperrors "folio/internal/errors"
	"folio/internal/logger"
	"folio/internal/models"
)

// dashboardService serves and rebuilds the account dashboard aggregate.
type dashboardService struct {
	db       *gorm.DB
	accounts AccountServicer
	journal  *journal
	log      *zap.SugaredLogger
	now      func() time.Time
}

// NewDashboardService creates a new DashboardServicer.
func NewDashboardService(db *gorm.DB, accounts AccountServicer, opts LedgerOptions) DashboardServicer {
	return &dashboardService{
		db:       db,
		accounts: accounts,
		journal:  newJournal(db, opts),
		log:      logger.Named("dashboard"),
		now:      time.Now,
	}
}

// Get returns the account's aggregate, creating the zero aggregate on first
// access.
func (s *dashboardService) Get(ctx context.Context, accountID string) (*models.DashboardAggregate, error) {
	if _, err := s.accounts.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	agg, err := loadAggregate(s.db.WithContext(ctx), accountID)
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

// Rebuild replays the account's full ledger into a fresh aggregate and
// replaces the stored one. Drift against the incremental aggregate or the
// position states is logged and returned in the result.
func (s *dashboardService) Rebuild(ctx context.Context, accountID string) (*RebuildResult, error) {
	if _, err := s.accounts.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}

	var result RebuildResult
	err := s.journal.retry(ctx, "rebuild_dashboard", accountID, func(ctx context.Context, attempt int) error {
		db := s.db.WithContext(ctx)
		previous, err := loadAggregate(db, accountID)
		if err != nil {
			return err
		}

		var txs []models.Transaction
		if err := db.Where("account_id = ?", accountID).Find(&txs).Error; err != nil {
			return apperrors.Wrap(apperrors.ErrInternalServer, err)
		}
		var positions []models.Position
		if err := db.Where("account_id = ?", accountID).Find(&positions).Error; err != nil {
			return apperrors.Wrap(apperrors.ErrInternalServer, err)
		}

		rebuilt, check := dashboard.Rebuild(accountID, txs, positions)
		rebuilt = dashboard.Stamp(rebuilt, s.now())
		if err := saveAggregate(db, rebuilt, previous.Version); err != nil {
			return err
		}
		rebuilt.Version = previous.Version + 1

		result = RebuildResult{
			Aggregate:  rebuilt,
			Previous:   previous,
			CrossCheck: check,
			Drifted:    !sameTotals(previous, rebuilt),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Drifted {
		s.log.Warnw("dashboard aggregate drifted from ledger replay",
			"account_id", accountID,
			"stored_invested", result.Previous.TotalInvested.String(),
			"rebuilt_invested", result.Aggregate.TotalInvested.String(),
			"stored_cash", result.Previous.TotalCashBalance.String(),
			"rebuilt_cash", result.Aggregate.TotalCashBalance.String(),
		)
	}
	if !result.CrossCheck.Consistent() {
		s.log.Warnw("ledger replay disagrees with position states",
			"account_id", accountID,
			"positions_invested", result.CrossCheck.PositionsInvested.String(),
			"drift", result.CrossCheck.Drift.String(),
		)
	}
	s.log.Infow("dashboard rebuilt", "account_id", accountID, "version", result.Aggregate.Version)
	return &result, nil
}

func sameTotals(a, b models.DashboardAggregate) bool {
	return a.TotalInvested.Equal(b.TotalInvested) &&
		a.TotalRealizedPnL.Equal(b.TotalRealizedPnL) &&
		a.TotalCashBalance.Equal(b.TotalCashBalance) &&
		a.TotalMaturedDebt.Equal(b.TotalMaturedDebt)
}
