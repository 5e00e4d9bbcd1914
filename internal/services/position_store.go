package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	apperrors "folio/internal/errors"
	"folio/internal/models"
	"folio/internal/pagination"
	"folio/internal/uuid"
)

// positionStore persists positions, their installments and the ledger.
type positionStore struct {
	db      *gorm.DB
	journal *journal

	// afterRead runs between the read and the write of every RunAtomic
	// attempt. Tests use it to interleave competing writers.
	afterRead func(attempt int)
}

// NewPositionStore creates a new PositionStorer.
func NewPositionStore(db *gorm.DB, opts LedgerOptions) PositionStorer {
	return &positionStore{db: db, journal: newJournal(db, opts)}
}

// GetPosition loads a position with its installments ordered by number.
func (s *positionStore) GetPosition(ctx context.Context, accountID, positionID string) (*models.Position, error) {
	return getPosition(s.db.WithContext(ctx), accountID, positionID)
}

func getPosition(db *gorm.DB, accountID, positionID string) (*models.Position, error) {
	var pos models.Position
	err := db.Preload("Installments", func(db *gorm.DB) *gorm.DB {
		return db.Order("number ASC")
	}).Where("id = ? AND account_id = ?", positionID, accountID).First(&pos).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrPositionNotFound
		}
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return &pos, nil
}

// ListPositions returns a page of an account's positions, open ones only
// unless the filter asks for closed ones too.
func (s *positionStore) ListPositions(ctx context.Context, accountID string, filter PositionFilter, page pagination.PageRequest) (*pagination.PageResponse[models.Position], error) {
	page.Defaults()

	base := s.db.WithContext(ctx).Model(&models.Position{}).Where("account_id = ?", accountID)
	if filter.AssetClass != nil {
		base = base.Where("asset_class = ?", *filter.AssetClass)
	}
	if !filter.IncludeClosed {
		base = base.Where("is_closed = ?", false)
	}

	var totalItems int64
	if err := base.Count(&totalItems).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	var positions []models.Position
	err := base.Preload("Installments", func(db *gorm.DB) *gorm.DB {
		return db.Order("number ASC")
	}).Order("first_acquired_at ASC, id ASC").Scopes(pagination.Paginate(page)).Find(&positions).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	result := pagination.NewPageResponse(positions, page.Page, page.PageSize, totalItems)
	return &result, nil
}

// GetTransactionsForPosition returns a position's ledger in application order.
func (s *positionStore) GetTransactionsForPosition(ctx context.Context, accountID, positionID string) ([]models.Transaction, error) {
	var txs []models.Transaction
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND position_id = ?", accountID, positionID).
		Order("date ASC, created_at ASC, id ASC").
		Find(&txs).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return txs, nil
}

// GetTransaction loads a single transaction of an account.
func (s *positionStore) GetTransaction(ctx context.Context, accountID, transactionID string) (*models.Transaction, error) {
	var tx models.Transaction
	err := s.db.WithContext(ctx).Where("id = ? AND account_id = ?", transactionID, accountID).First(&tx).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrTransactionNotFound
		}
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return &tx, nil
}

// ListTransactions returns a filtered page of an account's ledger, newest first.
func (s *positionStore) ListTransactions(ctx context.Context, accountID string, filter TransactionFilter, page pagination.PageRequest) (*pagination.PageResponse[models.Transaction], error) {
	page.Defaults()

	base := s.db.WithContext(ctx).Model(&models.Transaction{}).Where("account_id = ?", accountID)
	if filter.FromDate != nil {
		base = base.Where("date >= ?", *filter.FromDate)
	}
	if filter.ToDate != nil {
		base = base.Where("date <= ?", *filter.ToDate)
	}
	if filter.Type != nil {
		base = base.Where("type = ?", *filter.Type)
	}
	if filter.PositionID != "" {
		base = base.Where("position_id = ?", filter.PositionID)
	}

	var totalItems int64
	if err := base.Count(&totalItems).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	var txs []models.Transaction
	if err := base.Order("date DESC, created_at DESC, id DESC").Scopes(pagination.Paginate(page)).Find(&txs).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	result := pagination.NewPageResponse(txs, page.Page, page.PageSize, totalItems)
	return &result, nil
}

// Insert applies fn to a new position and stores the result together with
// its installments and transactions.
func (s *positionStore) Insert(ctx context.Context, pos models.Position, fn AtomicFunc) (*models.Position, []models.Transaction, error) {
	if pos.ID == "" {
		pos.ID = uuid.New()
	}

	var result models.Position
	txs, err := s.journal.run(ctx, "insert_position", pos.AccountID, func(tx *gorm.DB) ([]models.Transaction, error) {
		next, txs, err := fn(pos.Clone())
		if err != nil {
			return nil, err
		}
		next.Version = 0
		if err := tx.Create(&next).Error; err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
		}
		result = next
		return txs, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &result, txs, nil
}

// RunAtomic reads the position, applies fn to a private copy and commits the
// new state only if nobody else wrote the position in between. A lost race
// is retried from a fresh read with exponential backoff.
func (s *positionStore) RunAtomic(ctx context.Context, accountID, positionID string, fn AtomicFunc) (*models.Position, []models.Transaction, error) {
	var result models.Position
	var written []models.Transaction

	err := s.journal.retry(ctx, "run_atomic", accountID, func(ctx context.Context, attempt int) error {
		current, err := getPosition(s.db.WithContext(ctx), accountID, positionID)
		if err != nil {
			return err
		}
		if s.afterRead != nil {
			s.afterRead(attempt)
		}

		next, txs, err := fn(current.Clone())
		if errors.Is(err, errNoop) {
			result, written = *current, nil
			return nil
		}
		if err != nil {
			return err
		}

		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := writePosition(tx, current.Version, &next); err != nil {
				return err
			}
			if err := s.journal.append(tx, accountID, txs); err != nil {
				return err
			}
			result, written = next, txs
			return nil
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return &result, written, nil
}

// writePosition stores next if the row still carries the expected version
// and replaces its installments.
func writePosition(tx *gorm.DB, expected int64, next *models.Position) error {
	res := tx.Model(&models.Position{}).
		Where("id = ? AND version = ?", next.ID, expected).
		Updates(map[string]interface{}{
			"name":                   next.Name,
			"total_units":            next.TotalUnits,
			"total_invested":         next.TotalInvested,
			"average_unit_cost":      next.AverageUnitCost,
			"opening_cost":           next.OpeningCost,
			"first_acquired_at":      next.FirstAcquiredAt,
			"last_updated_at":        next.LastUpdatedAt,
			"is_closed":              next.IsClosed,
			"maturity_date":          next.MaturityDate,
			"debt_interest_rate":     next.DebtInterestRate,
			"property_type":          next.PropertyType,
			"installment_frequency":  next.InstallmentFrequency,
			"installment_amount":     next.InstallmentAmount,
			"total_contract_price":   next.TotalContractPrice,
			"first_installment_date": next.FirstInstallmentDate,
			"last_installment_date":  next.LastInstallmentDate,
			"down_payment":           next.DownPayment,
			"maintenance_amount":     next.MaintenanceAmount,
			"maintenance_date":       next.MaintenanceDate,
			"version":                expected + 1,
		})
	if res.Error != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, res.Error)
	}
	if res.RowsAffected == 0 {
		return errStaleWrite
	}
	next.Version = expected + 1

	if next.AssetClass != models.AssetClassRealEstate {
		return nil
	}
	if err := tx.Where("position_id = ?", next.ID).Delete(&models.Installment{}).Error; err != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	if len(next.Installments) == 0 {
		return nil
	}
	for i := range next.Installments {
		next.Installments[i].PositionID = next.ID
	}
	if err := tx.Create(&next.Installments).Error; err != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return nil
}
