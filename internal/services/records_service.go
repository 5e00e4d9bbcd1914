package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"folio/internal/cashflow"
	apperrors "folio/internal/errors"
	"folio/internal/ledger"
	"folio/internal/logger"
	"folio/internal/models"
	"folio/internal/validator"
)

// shareScale rounds credit card shares to the stored precision.
const shareScale = 8

// FixedEstimateRequest describes a recurring planning figure.
type FixedEstimateRequest struct {
	AccountID string                  `validate:"required"`
	Name      string                  `validate:"required,max=200"`
	Category  models.EstimateCategory `validate:"required,estimate_category"`
	Amount    decimal.Decimal         `validate:"dpositive"`
	Period    models.Frequency        `validate:"required,frequency"`
	IsExpense bool
}

// IncomeRequest logs a dated income entry.
type IncomeRequest struct {
	AccountID   string          `validate:"required"`
	Date        string          `validate:"required,ymd"`
	Amount      decimal.Decimal `validate:"dpositive"`
	Category    string          `validate:"max=100"`
	Description string
}

// ExpenseRequest logs a dated expense. Credit card expenses may be split
// into NumberOfInstallments monthly shares.
type ExpenseRequest struct {
	AccountID            string          `validate:"required"`
	Date                 string          `validate:"required,ymd"`
	Amount               decimal.Decimal `validate:"dpositive"`
	Category             string          `validate:"required,max=100"`
	Description          string
	IsInstallment        bool
	NumberOfInstallments int `validate:"required_if=IsInstallment true,omitempty,min=1,max=120"`
}

// recordsService handles fixed estimates and dated income and expense records.
type recordsService struct {
	db      *gorm.DB
	journal *journal
	log     *zap.SugaredLogger
	now     func() time.Time
}

// NewRecordsService creates a new RecordsServicer.
func NewRecordsService(db *gorm.DB, opts LedgerOptions) RecordsServicer {
	return &recordsService{
		db:      db,
		journal: newJournal(db, opts),
		log:     logger.Named("records"),
		now:     time.Now,
	}
}

// CreateFixedEstimate stores a fixed estimate. It writes no transaction but
// still bumps the account revision since cash flow depends on it.
func (s *recordsService) CreateFixedEstimate(ctx context.Context, req FixedEstimateRequest) (*models.FixedEstimate, error) {
	if err := validator.Struct(req); err != nil {
		return nil, err
	}

	var estimate models.FixedEstimate
	_, err := s.journal.run(ctx, "create_fixed_estimate", req.AccountID, func(tx *gorm.DB) ([]models.Transaction, error) {
		estimate = models.FixedEstimate{
			AccountID: req.AccountID,
			Name:      req.Name,
			Category:  req.Category,
			Amount:    req.Amount,
			Period:    req.Period,
			IsExpense: req.IsExpense,
		}
		if err := tx.Create(&estimate).Error; err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	return &estimate, nil
}

// ListFixedEstimates returns the account's fixed estimates.
func (s *recordsService) ListFixedEstimates(ctx context.Context, accountID string) ([]models.FixedEstimate, error) {
	var estimates []models.FixedEstimate
	if err := s.db.WithContext(ctx).Where("account_id = ?", accountID).Order("created_at ASC").Find(&estimates).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return estimates, nil
}

// DeleteFixedEstimate soft-deletes a fixed estimate.
func (s *recordsService) DeleteFixedEstimate(ctx context.Context, accountID, estimateID string) error {
	_, err := s.journal.run(ctx, "delete_fixed_estimate", accountID, func(tx *gorm.DB) ([]models.Transaction, error) {
		res := tx.Where("id = ? AND account_id = ?", estimateID, accountID).Delete(&models.FixedEstimate{})
		if res.Error != nil {
			return nil, apperrors.Wrap(apperrors.ErrInternalServer, res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, apperrors.ErrRecordNotFound
		}
		return nil, nil
	})
	return err
}

// ConfirmFixedEstimate books one month of a fixed estimate as an actual
// income or expense transaction.
func (s *recordsService) ConfirmFixedEstimate(ctx context.Context, accountID, estimateID string, date time.Time) (*models.Transaction, error) {
	if date.IsZero() {
		date = s.now()
	}

	txs, err := s.journal.run(ctx, "confirm_fixed_estimate", accountID, func(tx *gorm.DB) ([]models.Transaction, error) {
		var estimate models.FixedEstimate
		if err := findOwned(tx, &estimate, accountID, estimateID); err != nil {
			return nil, err
		}
		monthly, ok := cashflow.MonthlyAmount(estimate)
		if !ok {
			return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "fixed estimate has an unknown period")
		}

		typ := models.TransactionTypeIncome
		if estimate.IsExpense {
			typ = models.TransactionTypeExpense
		}
		entry, err := ledger.Normalize(models.Transaction{
			Type:        typ,
			Date:        date,
			Amount:      monthly.Round(shareScale),
			SourceID:    estimate.ID,
			Description: "Confirmed " + estimate.Name,
		})
		if err != nil {
			return nil, err
		}
		return []models.Transaction{entry}, nil
	})
	if err != nil {
		return nil, err
	}
	return &txs[0], nil
}

// AddIncome stores an income record and its ledger entry.
func (s *recordsService) AddIncome(ctx context.Context, req IncomeRequest) (*models.IncomeRecord, error) {
	if err := validator.Struct(req); err != nil {
		return nil, err
	}
	date, err := cashflow.ParseDate(req.Date)
	if err != nil {
		return nil, err
	}

	var rec models.IncomeRecord
	_, err = s.journal.run(ctx, "add_income", req.AccountID, func(tx *gorm.DB) ([]models.Transaction, error) {
		rec = models.IncomeRecord{
			AccountID:   req.AccountID,
			Date:        req.Date,
			Amount:      req.Amount,
			Category:    req.Category,
			Description: req.Description,
		}
		if err := tx.Create(&rec).Error; err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
		}
		entry, err := ledger.Normalize(models.Transaction{
			Type:        models.TransactionTypeIncome,
			Date:        date,
			Amount:      req.Amount,
			SourceID:    rec.ID,
			Description: req.Description,
		})
		if err != nil {
			return nil, err
		}
		return []models.Transaction{entry}, nil
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListIncome returns income records, optionally limited to a window.
func (s *recordsService) ListIncome(ctx context.Context, accountID string, window *cashflow.Window) ([]models.IncomeRecord, error) {
	var records []models.IncomeRecord
	if err := datedScope(s.db.WithContext(ctx), accountID, window).Find(&records).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return records, nil
}

// DeleteIncome soft-deletes an income record and reverses its ledger entry.
func (s *recordsService) DeleteIncome(ctx context.Context, accountID, recordID string) error {
	_, err := s.journal.run(ctx, "delete_income", accountID, func(tx *gorm.DB) ([]models.Transaction, error) {
		var rec models.IncomeRecord
		if err := findOwned(tx, &rec, accountID, recordID); err != nil {
			return nil, err
		}
		if err := tx.Delete(&rec).Error; err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
		}
		return s.reversalsFor(tx, accountID, rec.ID)
	})
	return err
}

// AddExpense stores an expense record and its ledger entry. A credit card
// installment expense books only its first share.
func (s *recordsService) AddExpense(ctx context.Context, req ExpenseRequest) (*models.ExpenseRecord, error) {
	if err := validator.Struct(req); err != nil {
		return nil, err
	}
	if req.IsInstallment && req.Category != models.ExpenseCategoryCreditCard {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "only credit card expenses can be paid in installments")
	}
	date, err := cashflow.ParseDate(req.Date)
	if err != nil {
		return nil, err
	}

	var rec models.ExpenseRecord
	_, err = s.journal.run(ctx, "add_expense", req.AccountID, func(tx *gorm.DB) ([]models.Transaction, error) {
		rec = models.ExpenseRecord{
			AccountID:   req.AccountID,
			Date:        req.Date,
			Amount:      req.Amount,
			Category:    req.Category,
			Description: req.Description,
		}
		amount := req.Amount
		description := req.Description
		if req.IsInstallment {
			rec.IsInstallment = true
			rec.NumberOfInstallments = req.NumberOfInstallments
			rec.LastPaidInstallmentIndex = 1
			rec.IsClosed = req.NumberOfInstallments == 1
			amount = shareOf(rec, 1)
			description = installmentLabel(rec, 1)
		}
		if err := tx.Create(&rec).Error; err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
		}

		entry, err := ledger.Normalize(models.Transaction{
			Type:        models.TransactionTypeExpense,
			Date:        date,
			Amount:      amount,
			SourceID:    rec.ID,
			Description: description,
		})
		if err != nil {
			return nil, err
		}
		return []models.Transaction{entry}, nil
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListExpenses returns expense records, optionally limited to a window.
func (s *recordsService) ListExpenses(ctx context.Context, accountID string, window *cashflow.Window) ([]models.ExpenseRecord, error) {
	var records []models.ExpenseRecord
	if err := datedScope(s.db.WithContext(ctx), accountID, window).Find(&records).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return records, nil
}

// PayCreditCardInstallment books the next monthly share of a credit card
// expense and closes the record after the last one.
func (s *recordsService) PayCreditCardInstallment(ctx context.Context, accountID, recordID string, date time.Time) (*models.ExpenseRecord, error) {
	if date.IsZero() {
		date = s.now()
	}

	var rec models.ExpenseRecord
	_, err := s.journal.run(ctx, "pay_credit_card_installment", accountID, func(tx *gorm.DB) ([]models.Transaction, error) {
		if err := findOwned(tx, &rec, accountID, recordID); err != nil {
			return nil, err
		}
		if !rec.IsCreditInstallment() {
			return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "expense is not a credit card installment plan")
		}
		if rec.IsClosed || rec.LastPaidInstallmentIndex >= rec.NumberOfInstallments {
			return nil, apperrors.ErrRecordClosed
		}

		index := rec.LastPaidInstallmentIndex + 1
		closed := index == rec.NumberOfInstallments
		res := tx.Model(&models.ExpenseRecord{}).
			Where("id = ? AND last_paid_installment_index = ?", rec.ID, rec.LastPaidInstallmentIndex).
			Updates(map[string]interface{}{
				"last_paid_installment_index": index,
				"is_closed":                   closed,
			})
		if res.Error != nil {
			return nil, apperrors.Wrap(apperrors.ErrInternalServer, res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, errStaleWrite
		}
		rec.LastPaidInstallmentIndex = index
		rec.IsClosed = closed

		entry, err := ledger.Normalize(models.Transaction{
			Type:        models.TransactionTypeExpense,
			Date:        date,
			Amount:      shareOf(rec, index),
			SourceID:    rec.ID,
			Description: installmentLabel(rec, index),
		})
		if err != nil {
			return nil, err
		}
		return []models.Transaction{entry}, nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Infow("credit card installment paid",
		"account_id", accountID,
		"record_id", rec.ID,
		"index", rec.LastPaidInstallmentIndex,
		"closed", rec.IsClosed,
	)
	return &rec, nil
}

// DeleteExpense soft-deletes an expense record and reverses every ledger
// entry it produced.
func (s *recordsService) DeleteExpense(ctx context.Context, accountID, recordID string) error {
	_, err := s.journal.run(ctx, "delete_expense", accountID, func(tx *gorm.DB) ([]models.Transaction, error) {
		var rec models.ExpenseRecord
		if err := findOwned(tx, &rec, accountID, recordID); err != nil {
			return nil, err
		}
		if err := tx.Delete(&rec).Error; err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
		}
		return s.reversalsFor(tx, accountID, rec.ID)
	})
	return err
}

// reversalsFor builds a reversal for every unreversed entry booked from the
// record with sourceID.
func (s *recordsService) reversalsFor(tx *gorm.DB, accountID, sourceID string) ([]models.Transaction, error) {
	var entries []models.Transaction
	err := tx.Where("account_id = ? AND source_id = ? AND reverses_id = ?", accountID, sourceID, "").
		Order("date ASC, created_at ASC, id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	var reversed []string
	if err := tx.Model(&models.Transaction{}).
		Where("account_id = ? AND source_id = ? AND reverses_id <> ?", accountID, sourceID, "").
		Pluck("reverses_id", &reversed).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	done := make(map[string]bool, len(reversed))
	for _, id := range reversed {
		done[id] = true
	}

	now := s.now()
	var out []models.Transaction
	for _, e := range entries {
		if done[e.ID] {
			continue
		}
		rev, err := ledger.Normalize(models.Transaction{
			Type:        e.Type,
			Date:        now,
			Amount:      e.Amount.Abs(),
			ReversesID:  e.ID,
			SourceID:    sourceID,
			Description: "Reversal of " + e.ID,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, rev)
	}
	return out, nil
}

// findOwned loads a soft-deletable record that belongs to accountID.
func findOwned(tx *gorm.DB, dest interface{}, accountID, id string) error {
	if err := tx.Where("id = ? AND account_id = ?", id, accountID).First(dest).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.ErrRecordNotFound
		}
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return nil
}

func datedScope(db *gorm.DB, accountID string, window *cashflow.Window) *gorm.DB {
	q := db.Where("account_id = ?", accountID)
	if window != nil {
		q = q.Where("date >= ? AND date <= ?", window.Start.Format(cashflow.DateLayout), window.End.Format(cashflow.DateLayout))
	}
	return q.Order("date ASC, created_at ASC")
}

// shareOf returns the amount of the index-th share. The last share absorbs
// the rounding remainder so the shares add up to the expense.
func shareOf(rec models.ExpenseRecord, index int) decimal.Decimal {
	n := int64(rec.NumberOfInstallments)
	share := rec.Amount.DivRound(decimal.NewFromInt(n), shareScale)
	if int64(index) < n {
		return share
	}
	return rec.Amount.Sub(share.Mul(decimal.NewFromInt(n - 1)))
}

func installmentLabel(rec models.ExpenseRecord, index int) string {
	label := fmt.Sprintf("Installment %d of %d", index, rec.NumberOfInstallments)
	if rec.Description != "" {
		label = rec.Description + " (" + label + ")"
	}
	return label
}
