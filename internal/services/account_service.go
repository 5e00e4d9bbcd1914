package services

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	apperrors "folio/internal/errors"
	"folio/internal/models"
	"folio/internal/validator"
)

// accountService handles account-related business logic.
type accountService struct {
	db              *gorm.DB
	defaultCurrency string
}

// NewAccountService creates a new AccountServicer. Accounts created without
// a base currency get defaultCurrency.
func NewAccountService(db *gorm.DB, defaultCurrency string) AccountServicer {
	if defaultCurrency == "" {
		defaultCurrency = "EGP"
	}
	return &accountService{db: db, defaultCurrency: defaultCurrency}
}

type createAccountRequest struct {
	Name         string `validate:"required,max=200"`
	BaseCurrency string `validate:"required,iso4217"`
}

// CreateAccount creates a new portfolio account.
func (s *accountService) CreateAccount(ctx context.Context, name, baseCurrency string) (*models.Account, error) {
	if baseCurrency == "" {
		baseCurrency = s.defaultCurrency
	}
	req := createAccountRequest{Name: strings.TrimSpace(name), BaseCurrency: baseCurrency}
	if err := validator.Struct(req); err != nil {
		return nil, err
	}

	account := &models.Account{
		Name:         req.Name,
		BaseCurrency: req.BaseCurrency,
	}
	if err := s.db.WithContext(ctx).Create(account).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	return account, nil
}

// GetAccount retrieves an account by ID.
func (s *accountService) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	var account models.Account
	if err := s.db.WithContext(ctx).Where("id = ?", accountID).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrAccountNotFound
		}
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return &account, nil
}

// ListAccounts returns every account ordered by creation.
func (s *accountService) ListAccounts(ctx context.Context) ([]models.Account, error) {
	var accounts []models.Account
	if err := s.db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&accounts).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return accounts, nil
}
