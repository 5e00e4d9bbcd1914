package services

import (
	"context"
	"time"

	"folio/internal/cashflow"
	"folio/internal/dashboard"
	"folio/internal/models"
	"folio/internal/pagination"
)

// AccountServicer defines the contract for account-related business logic.
type AccountServicer interface {
	CreateAccount(ctx context.Context, name, baseCurrency string) (*models.Account, error)
	GetAccount(ctx context.Context, accountID string) (*models.Account, error)
	ListAccounts(ctx context.Context) ([]models.Account, error)
}

// TransactionFilter holds optional filter parameters for listing transactions.
type TransactionFilter struct {
	FromDate   *time.Time
	ToDate     *time.Time
	Type       *models.TransactionType
	PositionID string
}

// PositionFilter holds optional filter parameters for listing positions.
type PositionFilter struct {
	AssetClass    *models.AssetClass
	IncludeClosed bool
}

// AtomicFunc computes a position's next state and the transactions that
// produced it from a private copy of the current state.
type AtomicFunc func(pos models.Position) (models.Position, []models.Transaction, error)

// PositionStorer is the persistence collaborator behind the ledger. RunAtomic
// reads a position, applies fn and writes the result together with its
// transactions, or writes nothing.
type PositionStorer interface {
	GetPosition(ctx context.Context, accountID, positionID string) (*models.Position, error)
	ListPositions(ctx context.Context, accountID string, filter PositionFilter, page pagination.PageRequest) (*pagination.PageResponse[models.Position], error)
	GetTransactionsForPosition(ctx context.Context, accountID, positionID string) ([]models.Transaction, error)
	GetTransaction(ctx context.Context, accountID, transactionID string) (*models.Transaction, error)
	ListTransactions(ctx context.Context, accountID string, filter TransactionFilter, page pagination.PageRequest) (*pagination.PageResponse[models.Transaction], error)
	Insert(ctx context.Context, pos models.Position, fn AtomicFunc) (*models.Position, []models.Transaction, error)
	RunAtomic(ctx context.Context, accountID, positionID string, fn AtomicFunc) (*models.Position, []models.Transaction, error)
}

// LedgerServicer defines the contract for position-level ledger operations.
type LedgerServicer interface {
	OpenPosition(ctx context.Context, req OpenPositionRequest) (*models.Position, error)
	Buy(ctx context.Context, req TradeRequest) (*models.Transaction, error)
	Sell(ctx context.Context, req TradeRequest) (*models.Transaction, error)
	Pay(ctx context.Context, req PaymentRequest) (*models.Transaction, error)
	ReversePayment(ctx context.Context, accountID, transactionID string, date time.Time) (*models.Transaction, error)
	AddDividend(ctx context.Context, req CashEventRequest) (*models.Transaction, error)
	AddInterest(ctx context.Context, req CashEventRequest) (*models.Transaction, error)
	SettleMaturedDebts(ctx context.Context, accountID string, asOf time.Time) ([]models.Transaction, error)
	UpdateContractTerms(ctx context.Context, req ContractTermsRequest) (*models.Position, error)
	DeleteInstallment(ctx context.Context, accountID, positionID string, number int) (*models.Position, error)
	GetPosition(ctx context.Context, accountID, positionID string) (*models.Position, error)
	ListPositions(ctx context.Context, accountID string, filter PositionFilter, page pagination.PageRequest) (*pagination.PageResponse[models.Position], error)
	ListTransactions(ctx context.Context, accountID string, filter TransactionFilter, page pagination.PageRequest) (*pagination.PageResponse[models.Transaction], error)
}

// RecordsServicer defines the contract for fixed estimates and dated
// income and expense records.
type RecordsServicer interface {
	CreateFixedEstimate(ctx context.Context, req FixedEstimateRequest) (*models.FixedEstimate, error)
	ListFixedEstimates(ctx context.Context, accountID string) ([]models.FixedEstimate, error)
	DeleteFixedEstimate(ctx context.Context, accountID, estimateID string) error
	ConfirmFixedEstimate(ctx context.Context, accountID, estimateID string, date time.Time) (*models.Transaction, error)
	AddIncome(ctx context.Context, req IncomeRequest) (*models.IncomeRecord, error)
	ListIncome(ctx context.Context, accountID string, window *cashflow.Window) ([]models.IncomeRecord, error)
	DeleteIncome(ctx context.Context, accountID, recordID string) error
	AddExpense(ctx context.Context, req ExpenseRequest) (*models.ExpenseRecord, error)
	ListExpenses(ctx context.Context, accountID string, window *cashflow.Window) ([]models.ExpenseRecord, error)
	PayCreditCardInstallment(ctx context.Context, accountID, recordID string, date time.Time) (*models.ExpenseRecord, error)
	DeleteExpense(ctx context.Context, accountID, recordID string) error
}

// RebuildResult reports a dashboard rebuild and how it compared with the
// incrementally maintained aggregate and the position states.
type RebuildResult struct {
	Aggregate  models.DashboardAggregate
	Previous   models.DashboardAggregate
	CrossCheck dashboard.CrossCheck
	Drifted    bool
}

// DashboardServicer defines the contract for the account dashboard.
type DashboardServicer interface {
	Get(ctx context.Context, accountID string) (*models.DashboardAggregate, error)
	Rebuild(ctx context.Context, accountID string) (*RebuildResult, error)
}

// CashFlowServicer defines the contract for monthly cash-flow summaries.
type CashFlowServicer interface {
	Summarize(ctx context.Context, accountID string, month time.Time) (*cashflow.Summary, error)
}
