package services

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	apperrors "folio/internal/errors"
	"folio/internal/ledger"
	"folio/internal/logger"
	"folio/internal/models"
	"folio/internal/pagination"
	"folio/internal/schedule"
	"folio/internal/uuid"
	"folio/internal/validator"
)

// OpenPositionRequest describes a new holding and its opening transaction.
// Only the fields of the chosen asset class are read.
type OpenPositionRequest struct {
	AccountID  string            `validate:"required"`
	AssetClass models.AssetClass `validate:"required,asset_class"`
	Name       string            `validate:"required,max=200"`
	Currency   string            `validate:"omitempty,iso4217"`
	Date       time.Time         `validate:"required"`

	Units     decimal.Decimal `validate:"dnonneg"`
	UnitPrice decimal.Decimal `validate:"dnonneg"`
	Fees      decimal.Decimal `validate:"dnonneg"`
	Amount    decimal.Decimal `validate:"dnonneg"`

	Symbol       string
	FundType     string
	GoldKarat    int    `validate:"omitempty,oneof=18 21 22 24"`
	HeldCurrency string `validate:"omitempty,iso4217"`

	DebtKind          string
	InterestRate      decimal.Decimal `validate:"dnonneg"`
	MaturityDate      *time.Time
	InterestFrequency models.Frequency `validate:"omitempty,frequency"`

	PropertyType         string
	InstallmentFrequency models.Frequency `validate:"omitempty,frequency"`
	InstallmentAmount    decimal.Decimal  `validate:"dnonneg"`
	TotalContractPrice   decimal.Decimal  `validate:"dnonneg"`
	FirstInstallmentDate *time.Time
	LastInstallmentDate  *time.Time
	DownPayment          decimal.Decimal `validate:"dnonneg"`
	MaintenanceAmount    decimal.Decimal `validate:"dnonneg"`
	MaintenanceDate      *time.Time

	Description string
	Metadata    models.Metadata
}

// TradeRequest is a buy or sell against an existing position. Either Amount
// or Units and UnitPrice give the gross value.
type TradeRequest struct {
	AccountID   string          `validate:"required"`
	PositionID  string          `validate:"required"`
	Date        time.Time       `validate:"required"`
	Units       decimal.Decimal `validate:"dnonneg"`
	UnitPrice   decimal.Decimal `validate:"dnonneg"`
	Fees        decimal.Decimal `validate:"dnonneg"`
	Amount      decimal.Decimal `validate:"dnonneg"`
	Description string
	Metadata    models.Metadata
}

// PaymentRequest pays into a position. Real-estate payments settle the
// installment with InstallmentNumber; a zero Amount pays it in full.
type PaymentRequest struct {
	AccountID         string          `validate:"required"`
	PositionID        string          `validate:"required"`
	Date              time.Time       `validate:"required"`
	Amount            decimal.Decimal `validate:"dnonneg"`
	InstallmentNumber *int            `validate:"omitempty,min=0"`
	ChequeReference   string          `validate:"max=100"`
	Description       string
}

// CashEventRequest records a dividend or interest distribution.
type CashEventRequest struct {
	AccountID   string          `validate:"required"`
	PositionID  string          `validate:"required"`
	Date        time.Time       `validate:"required"`
	Amount      decimal.Decimal `validate:"dpositive"`
	Description string
}

// ContractTermsRequest replaces the terms of a real-estate contract. The
// down payment is fixed at opening and cannot be changed here.
type ContractTermsRequest struct {
	AccountID            string           `validate:"required"`
	PositionID           string           `validate:"required"`
	PropertyType         string
	Frequency            models.Frequency `validate:"required,frequency"`
	InstallmentAmount    decimal.Decimal  `validate:"dpositive"`
	TotalContractPrice   decimal.Decimal  `validate:"dnonneg"`
	FirstInstallmentDate time.Time        `validate:"required"`
	LastInstallmentDate  *time.Time
	MaintenanceAmount    decimal.Decimal `validate:"dnonneg"`
	MaintenanceDate      *time.Time
}

// ledgerService handles position-level ledger operations.
type ledgerService struct {
	db       *gorm.DB
	store    PositionStorer
	accounts AccountServicer
	engine   *ledger.Engine
	log      *zap.SugaredLogger
	now      func() time.Time
}

// NewLedgerService creates a new LedgerServicer.
func NewLedgerService(db *gorm.DB, store PositionStorer, accounts AccountServicer, engine *ledger.Engine) LedgerServicer {
	return &ledgerService{
		db:       db,
		store:    store,
		accounts: accounts,
		engine:   engine,
		log:      logger.Named("ledger"),
		now:      time.Now,
	}
}

// OpenPosition creates a position and records its opening transaction: a
// buy for most classes, the down payment for a real-estate contract.
func (s *ledgerService) OpenPosition(ctx context.Context, req OpenPositionRequest) (*models.Position, error) {
	if err := validator.Struct(req); err != nil {
		return nil, err
	}

	account, err := s.accounts.GetAccount(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	currency := req.Currency
	if currency == "" {
		currency = account.BaseCurrency
	}

	pos := models.Position{
		AccountID:         account.ID,
		AssetClass:        req.AssetClass,
		Name:              req.Name,
		Currency:          currency,
		FirstAcquiredAt:   req.Date,
		LastUpdatedAt:     req.Date,
		Symbol:            req.Symbol,
		FundType:          req.FundType,
		GoldKarat:         req.GoldKarat,
		HeldCurrency:      req.HeldCurrency,
		DebtKind:          req.DebtKind,
		DebtInterestRate:  req.InterestRate,
		MaturityDate:      req.MaturityDate,
		InterestFrequency: req.InterestFrequency,
	}
	pos.ID = uuid.New()

	var fn AtomicFunc
	if req.AssetClass == models.AssetClassRealEstate {
		pos.SetRealEstateTerms(models.RealEstateTerms{
			PropertyType:         req.PropertyType,
			Frequency:            req.InstallmentFrequency,
			InstallmentAmount:    req.InstallmentAmount,
			TotalContractPrice:   req.TotalContractPrice,
			FirstInstallmentDate: req.FirstInstallmentDate,
			LastInstallmentDate:  req.LastInstallmentDate,
			DownPayment:          req.DownPayment,
			MaintenanceAmount:    req.MaintenanceAmount,
			MaintenanceDate:      req.MaintenanceDate,
		})
		terms, _ := pos.Terms().(models.RealEstateTerms)
		installments, err := schedule.Generate(terms)
		if err != nil {
			return nil, err
		}
		pos.Installments = installments
		pos.TotalUnits = decimal.NewFromInt(1)
		fn = s.openContract(req)
	} else {
		fn = s.openHolding(req)
	}

	created, _, err := s.store.Insert(ctx, pos, fn)
	if err != nil {
		return nil, err
	}

	s.log.Infow("position opened",
		"account_id", created.AccountID,
		"position_id", created.ID,
		"asset_class", created.AssetClass,
		"total_invested", created.TotalInvested.String(),
	)
	return created, nil
}

func (s *ledgerService) openHolding(req OpenPositionRequest) AtomicFunc {
	return func(pos models.Position) (models.Position, []models.Transaction, error) {
		next, tx, err := s.engine.Apply(pos, models.Transaction{
			Type:        models.TransactionTypeBuy,
			Date:        req.Date,
			Units:       req.Units,
			UnitPrice:   req.UnitPrice,
			Fees:        req.Fees,
			Amount:      req.Amount,
			Description: req.Description,
			Metadata:    req.Metadata,
		})
		if err != nil {
			return pos, nil, err
		}
		next.OpeningCost = tx.Amount
		return next, []models.Transaction{tx}, nil
	}
}

func (s *ledgerService) openContract(req OpenPositionRequest) AtomicFunc {
	return func(pos models.Position) (models.Position, []models.Transaction, error) {
		if !pos.DownPayment.IsPositive() {
			return pos, nil, nil
		}
		number := schedule.DownPaymentNumber
		next, tx, err := s.engine.Apply(pos, models.Transaction{
			Type:              models.TransactionTypePayment,
			Date:              req.Date,
			InstallmentNumber: &number,
			Description:       "Down payment",
			Metadata:          req.Metadata,
		})
		if err != nil {
			return pos, nil, err
		}
		next.OpeningCost = next.TotalInvested
		return next, []models.Transaction{tx}, nil
	}
}

// Buy adds units to a position.
func (s *ledgerService) Buy(ctx context.Context, req TradeRequest) (*models.Transaction, error) {
	return s.trade(ctx, models.TransactionTypeBuy, req)
}

// Sell removes units from a position and realizes P&L against the average cost.
func (s *ledgerService) Sell(ctx context.Context, req TradeRequest) (*models.Transaction, error) {
	return s.trade(ctx, models.TransactionTypeSell, req)
}

func (s *ledgerService) trade(ctx context.Context, typ models.TransactionType, req TradeRequest) (*models.Transaction, error) {
	if err := validator.Struct(req); err != nil {
		return nil, err
	}
	return s.applyOne(ctx, req.AccountID, req.PositionID, models.Transaction{
		Type:        typ,
		Date:        req.Date,
		Units:       req.Units,
		UnitPrice:   req.UnitPrice,
		Fees:        req.Fees,
		Amount:      req.Amount,
		Description: req.Description,
		Metadata:    req.Metadata,
	}, nil)
}

// Pay records a payment into a position.
func (s *ledgerService) Pay(ctx context.Context, req PaymentRequest) (*models.Transaction, error) {
	if err := validator.Struct(req); err != nil {
		return nil, err
	}

	tx := models.Transaction{
		Type:              models.TransactionTypePayment,
		Date:              req.Date,
		Amount:            req.Amount,
		InstallmentNumber: req.InstallmentNumber,
		Description:       req.Description,
	}
	return s.applyOne(ctx, req.AccountID, req.PositionID, tx, func(next *models.Position) {
		if req.ChequeReference == "" || req.InstallmentNumber == nil {
			return
		}
		for i := range next.Installments {
			if next.Installments[i].Number == *req.InstallmentNumber {
				next.Installments[i].ChequeReference = req.ChequeReference
			}
		}
	})
}

// ReversePayment appends a reversal of an earlier payment. The original
// transaction is left untouched.
func (s *ledgerService) ReversePayment(ctx context.Context, accountID, transactionID string, date time.Time) (*models.Transaction, error) {
	original, err := s.store.GetTransaction(ctx, accountID, transactionID)
	if err != nil {
		return nil, err
	}
	if original.Type != models.TransactionTypePayment {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidTransactionType, "only payments can be reversed")
	}
	if original.IsReversal() {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "a reversal cannot be reversed")
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Transaction{}).Where("reverses_id = ?", original.ID).Count(&count).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	if count > 0 {
		return nil, apperrors.ErrAlreadyReversed
	}

	if date.IsZero() {
		date = s.now()
	}
	return s.applyOne(ctx, accountID, original.PositionID, models.Transaction{
		Type:              models.TransactionTypePayment,
		Date:              date,
		Amount:            original.Amount.Abs(),
		InstallmentNumber: original.InstallmentNumber,
		ReversesID:        original.ID,
		Description:       "Reversal of payment " + original.ID,
	}, nil)
}

// AddDividend records a dividend paid by a security or property.
func (s *ledgerService) AddDividend(ctx context.Context, req CashEventRequest) (*models.Transaction, error) {
	return s.cashEvent(ctx, models.TransactionTypeDividend, req)
}

// AddInterest records interest paid by a debt instrument or currency deposit.
func (s *ledgerService) AddInterest(ctx context.Context, req CashEventRequest) (*models.Transaction, error) {
	return s.cashEvent(ctx, models.TransactionTypeInterest, req)
}

func (s *ledgerService) cashEvent(ctx context.Context, typ models.TransactionType, req CashEventRequest) (*models.Transaction, error) {
	if err := validator.Struct(req); err != nil {
		return nil, err
	}
	return s.applyOne(ctx, req.AccountID, req.PositionID, models.Transaction{
		Type:        typ,
		Date:        req.Date,
		Amount:      req.Amount,
		Description: req.Description,
	}, nil)
}

// applyOne runs a single transaction through the engine under RunAtomic.
// adjust, when set, edits the new position state before it is written.
func (s *ledgerService) applyOne(ctx context.Context, accountID, positionID string, tx models.Transaction, adjust func(next *models.Position)) (*models.Transaction, error) {
	_, txs, err := s.store.RunAtomic(ctx, accountID, positionID, func(pos models.Position) (models.Position, []models.Transaction, error) {
		next, out, err := s.engine.Apply(pos, tx)
		if err != nil {
			return pos, nil, err
		}
		if adjust != nil {
			adjust(&next)
		}
		return next, []models.Transaction{out}, nil
	})
	if err != nil {
		return nil, err
	}
	return &txs[0], nil
}

// SettleMaturedDebts closes every open debt instrument of the account whose
// maturity date is on or before asOf, returning the principal to cash.
// Positions that fail to settle are logged and reported together; the
// others are still settled.
func (s *ledgerService) SettleMaturedDebts(ctx context.Context, accountID string, asOf time.Time) ([]models.Transaction, error) {
	var candidates []models.Position
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND asset_class = ? AND is_closed = ?", accountID, models.AssetClassDebtInstrument, false).
		Order("maturity_date ASC").
		Find(&candidates).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	var settled []models.Transaction
	var errs []error
	for _, c := range candidates {
		if !c.IsMatured(asOf) || !c.TotalUnits.IsPositive() {
			continue
		}

		_, txs, err := s.store.RunAtomic(ctx, accountID, c.ID, func(pos models.Position) (models.Position, []models.Transaction, error) {
			if pos.IsClosed || !pos.IsMatured(asOf) {
				return pos, nil, errNoop
			}
			next, tx, err := s.engine.Apply(pos, models.Transaction{
				Type:        models.TransactionTypeMaturedDebt,
				Date:        *pos.MaturityDate,
				Description: "Matured " + pos.Name,
			})
			if err != nil {
				return pos, nil, err
			}
			return next, []models.Transaction{tx}, nil
		})
		if err != nil {
			s.log.Errorw("failed to settle matured debt",
				"error", err,
				"account_id", accountID,
				"position_id", c.ID,
			)
			errs = append(errs, err)
			continue
		}
		if len(txs) > 0 {
			s.log.Infow("matured debt settled",
				"account_id", accountID,
				"position_id", c.ID,
				"amount", txs[0].Amount.String(),
			)
		}
		settled = append(settled, txs...)
	}

	return settled, errors.Join(errs...)
}

// UpdateContractTerms changes a real-estate contract and regenerates its
// unpaid installments. Paid installments are kept as they are.
func (s *ledgerService) UpdateContractTerms(ctx context.Context, req ContractTermsRequest) (*models.Position, error) {
	if err := validator.Struct(req); err != nil {
		return nil, err
	}

	pos, _, err := s.store.RunAtomic(ctx, req.AccountID, req.PositionID, func(pos models.Position) (models.Position, []models.Transaction, error) {
		current, ok := pos.Terms().(models.RealEstateTerms)
		if !ok {
			return pos, nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "only real estate positions have contract terms")
		}

		first := req.FirstInstallmentDate
		terms := current
		terms.PropertyType = req.PropertyType
		terms.Frequency = req.Frequency
		terms.InstallmentAmount = req.InstallmentAmount
		terms.TotalContractPrice = req.TotalContractPrice
		terms.FirstInstallmentDate = &first
		terms.LastInstallmentDate = req.LastInstallmentDate
		terms.MaintenanceAmount = req.MaintenanceAmount
		terms.MaintenanceDate = req.MaintenanceDate

		installments, err := schedule.Regenerate(pos.Installments, terms)
		if err != nil {
			return pos, nil, err
		}
		pos.Installments = installments
		pos.SetRealEstateTerms(terms)
		pos.LastUpdatedAt = s.now()
		return pos, nil, nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Infow("contract terms updated",
		"account_id", req.AccountID,
		"position_id", req.PositionID,
		"installments", len(pos.Installments),
	)
	return pos, nil
}

// DeleteInstallment removes an unpaid installment from a contract schedule.
func (s *ledgerService) DeleteInstallment(ctx context.Context, accountID, positionID string, number int) (*models.Position, error) {
	pos, _, err := s.store.RunAtomic(ctx, accountID, positionID, func(pos models.Position) (models.Position, []models.Transaction, error) {
		if pos.AssetClass != models.AssetClassRealEstate {
			return pos, nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "only real estate positions have installments")
		}
		installments, err := schedule.Remove(pos.Installments, number)
		if err != nil {
			return pos, nil, err
		}
		pos.Installments = installments
		pos.LastUpdatedAt = s.now()
		return pos, nil, nil
	})
	if err != nil {
		return nil, err
	}
	return pos, nil
}

// GetPosition returns a position with its installment schedule.
func (s *ledgerService) GetPosition(ctx context.Context, accountID, positionID string) (*models.Position, error) {
	return s.store.GetPosition(ctx, accountID, positionID)
}

// ListPositions returns a page of the account's positions.
func (s *ledgerService) ListPositions(ctx context.Context, accountID string, filter PositionFilter, page pagination.PageRequest) (*pagination.PageResponse[models.Position], error) {
	if _, err := s.accounts.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return s.store.ListPositions(ctx, accountID, filter, page)
}

// ListTransactions returns a page of the account's ledger.
func (s *ledgerService) ListTransactions(ctx context.Context, accountID string, filter TransactionFilter, page pagination.PageRequest) (*pagination.PageResponse[models.Transaction], error) {
	if _, err := s.accounts.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return s.store.ListTransactions(ctx, accountID, filter, page)
}
