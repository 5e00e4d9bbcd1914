package services

import (
	"context"
	"testing"
	"time"

	"gorm.io/gorm"

	"folio/internal/models"
	"folio/internal/pagination"
	"folio/internal/testutil"
)

func TestOpenPosition(t *testing.T) {
	ctx := context.Background()

	t.Run("security", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newTestServices(db)
		account := testutil.CreateTestAccount(t, db)

		pos := openSecurity(t, svc, account.ID, "10", "100", "10")

		testutil.AssertDecimal(t, "units", "10", pos.TotalUnits)
		testutil.AssertDecimal(t, "invested", "1010", pos.TotalInvested)
		testutil.AssertDecimal(t, "average", "101", pos.AverageUnitCost)
		testutil.AssertDecimal(t, "opening cost", "1010", pos.OpeningCost)
		if pos.Currency != "EGP" {
			t.Errorf("expected account currency EGP, got %s", pos.Currency)
		}

		if n := countTransactions(db, account.ID); n != 1 {
			t.Errorf("expected 1 opening transaction, got %d", n)
		}
		agg := aggregateOf(t, svc, account.ID)
		testutil.AssertDecimal(t, "aggregate invested", "1010", agg.TotalInvested)
		testutil.AssertDecimal(t, "aggregate cash", "-1010", agg.TotalCashBalance)

		stored, err := svc.accounts.GetAccount(ctx, account.ID)
		testutil.AssertNoError(t, err)
		if stored.Revision != 1 {
			t.Errorf("expected revision 1, got %d", stored.Revision)
		}
	})

	t.Run("real_estate_with_down_payment", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newTestServices(db)
		account := testutil.CreateTestAccount(t, db)

		pos := openContract(t, svc, account.ID, "10000")

		if len(pos.Installments) != 5 {
			t.Fatalf("expected down payment plus 4 installments, got %d", len(pos.Installments))
		}
		dp := pos.Installments[0]
		if dp.Number != 0 || !dp.IsDownPayment || !dp.IsPaid() {
			t.Errorf("expected paid down payment as installment 0, got %+v", dp)
		}
		testutil.AssertDecimal(t, "invested", "10000", pos.TotalInvested)
		testutil.AssertDecimal(t, "opening cost", "10000", pos.OpeningCost)
		testutil.AssertDecimal(t, "units", "1", pos.TotalUnits)

		stored, err := svc.ledger.GetPosition(ctx, account.ID, pos.ID)
		testutil.AssertNoError(t, err)
		if len(stored.Installments) != 5 {
			t.Errorf("expected 5 stored installments, got %d", len(stored.Installments))
		}
		if stored.Installments[4].DueDate.Format("2006-01-02") != "2024-12-10" {
			t.Errorf("expected last installment due 2024-12-10, got %s", stored.Installments[4].DueDate)
		}
	})

	t.Run("real_estate_without_down_payment_writes_no_transaction", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newTestServices(db)
		account := testutil.CreateTestAccount(t, db)

		pos := openContract(t, svc, account.ID, "0")

		if len(pos.Installments) != 4 {
			t.Errorf("expected 4 installments, got %d", len(pos.Installments))
		}
		if n := countTransactions(db, account.ID); n != 0 {
			t.Errorf("expected no transactions, got %d", n)
		}
	})

	t.Run("validation", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newTestServices(db)
		account := testutil.CreateTestAccount(t, db)

		base := OpenPositionRequest{
			AccountID:  account.ID,
			AssetClass: models.AssetClassGold,
			Name:       "Gold bars",
			Date:       testutil.Date(2024, 2, 1),
			Units:      dec("50"),
			UnitPrice:  dec("3100"),
			GoldKarat:  24,
		}

		tests := []struct {
			name   string
			mutate func(r *OpenPositionRequest)
			code   string
		}{
			{"missing_name", func(r *OpenPositionRequest) { r.Name = "" }, "MISSING_REQUIRED_FIELD"},
			{"lowercase_currency", func(r *OpenPositionRequest) { r.Currency = "egp" }, "INVALID_INPUT"},
			{"unknown_class", func(r *OpenPositionRequest) { r.AssetClass = "crypto" }, "INVALID_INPUT"},
			{"negative_fees", func(r *OpenPositionRequest) { r.Fees = dec("-1") }, "INVALID_INPUT"},
			{"bad_karat", func(r *OpenPositionRequest) { r.GoldKarat = 23 }, "INVALID_INPUT"},
			{"missing_units", func(r *OpenPositionRequest) { r.Units = dec("0") }, "MISSING_REQUIRED_FIELD"},
			{"unknown_account", func(r *OpenPositionRequest) { r.AccountID = "missing" }, "ACCOUNT_NOT_FOUND"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				req := base
				tt.mutate(&req)
				_, err := svc.ledger.OpenPosition(ctx, req)
				testutil.AssertAppError(t, err, tt.code)
			})
		}

		var positions int64
		db.Model(&models.Position{}).Count(&positions)
		if positions != 0 {
			t.Errorf("expected no positions after failed opens, got %d", positions)
		}
	})
}

func TestBuyAndSell(t *testing.T) {
	ctx := context.Background()

	t.Run("average_cost_and_realized_pnl", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newTestServices(db)
		account := testutil.CreateTestAccount(t, db)
		pos := openSecurity(t, svc, account.ID, "10", "100", "10")

		sell, err := svc.ledger.Sell(ctx, TradeRequest{
			AccountID:  account.ID,
			PositionID: pos.ID,
			Date:       testutil.Date(2024, 2, 1),
			Units:      dec("4"),
			UnitPrice:  dec("150"),
		})
		testutil.AssertNoError(t, err)

		testutil.AssertDecimal(t, "amount", "-600", sell.Amount)
		testutil.AssertDecimal(t, "units", "-4", sell.Units)
		testutil.AssertDecimal(t, "cost removed", "404", sell.CostBasisRemoved)
		if !sell.RealizedPnL.Valid {
			t.Fatal("expected realized pnl on a security sell")
		}
		testutil.AssertDecimal(t, "realized pnl", "196", sell.RealizedPnL.Decimal)

		stored, err := svc.ledger.GetPosition(ctx, account.ID, pos.ID)
		testutil.AssertNoError(t, err)
		testutil.AssertDecimal(t, "units", "6", stored.TotalUnits)
		testutil.AssertDecimal(t, "invested", "606", stored.TotalInvested)
		testutil.AssertDecimal(t, "average", "101", stored.AverageUnitCost)
		if stored.Version != 1 {
			t.Errorf("expected version 1, got %d", stored.Version)
		}

		agg := aggregateOf(t, svc, account.ID)
		testutil.AssertDecimal(t, "aggregate invested", "606", agg.TotalInvested)
		testutil.AssertDecimal(t, "aggregate pnl", "196", agg.TotalRealizedPnL)
		testutil.AssertDecimal(t, "aggregate cash", "-410", agg.TotalCashBalance)
	})

	t.Run("buy_updates_average", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newTestServices(db)
		account := testutil.CreateTestAccount(t, db)
		pos := openSecurity(t, svc, account.ID, "10", "100", "10")

		_, err := svc.ledger.Buy(ctx, TradeRequest{
			AccountID:  account.ID,
			PositionID: pos.ID,
			Date:       testutil.Date(2024, 2, 1),
			Units:      dec("5"),
			UnitPrice:  dec("110"),
		})
		testutil.AssertNoError(t, err)

		stored, err := svc.ledger.GetPosition(ctx, account.ID, pos.ID)
		testutil.AssertNoError(t, err)
		testutil.AssertDecimal(t, "units", "15", stored.TotalUnits)
		testutil.AssertDecimal(t, "invested", "1560", stored.TotalInvested)
		testutil.AssertDecimal(t, "average", "104", stored.AverageUnitCost)
	})

	t.Run("sell_all_closes", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newTestServices(db)
		account := testutil.CreateTestAccount(t, db)
		pos := openSecurity(t, svc, account.ID, "3", "100", "1")

		_, err := svc.ledger.Sell(ctx, TradeRequest{
			AccountID:  account.ID,
			PositionID: pos.ID,
			Date:       testutil.Date(2024, 2, 1),
			Units:      dec("3"),
			UnitPrice:  dec("90"),
		})
		testutil.AssertNoError(t, err)

		stored, err := svc.ledger.GetPosition(ctx, account.ID, pos.ID)
		testutil.AssertNoError(t, err)
		if !stored.IsClosed {
			t.Error("expected position to be closed")
		}
		testutil.AssertDecimal(t, "invested", "0", stored.TotalInvested)

		open, err := svc.ledger.ListPositions(ctx, account.ID, PositionFilter{}, pagination.PageRequest{})
		testutil.AssertNoError(t, err)
		if open.TotalItems != 0 {
			t.Errorf("expected no open positions, got %d", open.TotalItems)
		}
		all, err := svc.ledger.ListPositions(ctx, account.ID, PositionFilter{IncludeClosed: true}, pagination.PageRequest{})
		testutil.AssertNoError(t, err)
		if all.TotalItems != 1 {
			t.Errorf("expected 1 position including closed, got %d", all.TotalItems)
		}
	})

	t.Run("insufficient_units_leaves_position_unchanged", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newTestServices(db)
		account := testutil.CreateTestAccount(t, db)
		pos := openSecurity(t, svc, account.ID, "10", "100", "10")

		_, err := svc.ledger.Sell(ctx, TradeRequest{
			AccountID:  account.ID,
			PositionID: pos.ID,
			Date:       testutil.Date(2024, 2, 1),
			Units:      dec("11"),
			UnitPrice:  dec("150"),
		})
		testutil.AssertAppError(t, err, "INSUFFICIENT_UNITS")

		stored, err := svc.ledger.GetPosition(ctx, account.ID, pos.ID)
		testutil.AssertNoError(t, err)
		testutil.AssertDecimal(t, "units", "10", stored.TotalUnits)
		if stored.Version != 0 {
			t.Errorf("expected version 0, got %d", stored.Version)
		}
		if n := countTransactions(db, account.ID); n != 1 {
			t.Errorf("expected only the opening transaction, got %d", n)
		}
	})

	t.Run("unknown_position", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newTestServices(db)
		account := testutil.CreateTestAccount(t, db)

		_, err := svc.ledger.Buy(ctx, TradeRequest{
			AccountID:  account.ID,
			PositionID: "missing",
			Date:       testutil.Date(2024, 2, 1),
			Units:      dec("1"),
			UnitPrice:  dec("1"),
		})
		testutil.AssertAppError(t, err, "POSITION_NOT_FOUND")
	})

	t.Run("missing_date", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newTestServices(db)
		account := testutil.CreateTestAccount(t, db)
		pos := openSecurity(t, svc, account.ID, "1", "1", "0")

		_, err := svc.ledger.Buy(ctx, TradeRequest{
			AccountID:  account.ID,
			PositionID: pos.ID,
			Units:      dec("1"),
			UnitPrice:  dec("1"),
		})
		testutil.AssertAppError(t, err, "MISSING_REQUIRED_FIELD")
	})
}

func TestPayAndReversePayment(t *testing.T) {
	ctx := context.Background()

	t.Run("installment_round_trip", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newTestServices(db)
		account := testutil.CreateTestAccount(t, db)
		pos := openContract(t, svc, account.ID, "0")

		payment, err := svc.ledger.Pay(ctx, PaymentRequest{
			AccountID:         account.ID,
			PositionID:        pos.ID,
			Date:              testutil.Date(2024, 3, 12),
			InstallmentNumber: intPtr(1),
			ChequeReference:   "CHQ-1001",
		})
		testutil.AssertNoError(t, err)
		testutil.AssertDecimal(t, "payment amount", "-5000", payment.Amount)

		stored, err := svc.ledger.GetPosition(ctx, account.ID, pos.ID)
		testutil.AssertNoError(t, err)
		testutil.AssertDecimal(t, "invested", "5000", stored.TotalInvested)
		if !stored.Installments[0].IsPaid() {
			t.Error("expected installment 1 to be paid")
		}
		if stored.Installments[0].ChequeReference != "CHQ-1001" {
			t.Errorf("expected cheque reference CHQ-1001, got %q", stored.Installments[0].ChequeReference)
		}

		_, err = svc.ledger.Pay(ctx, PaymentRequest{
			AccountID:         account.ID,
			PositionID:        pos.ID,
			Date:              testutil.Date(2024, 3, 13),
			InstallmentNumber: intPtr(1),
		})
		testutil.AssertAppError(t, err, "INSTALLMENT_ALREADY_PAID")

		reversal, err := svc.ledger.ReversePayment(ctx, account.ID, payment.ID, testutil.Date(2024, 3, 20))
		testutil.AssertNoError(t, err)
		if reversal.ReversesID != payment.ID {
			t.Errorf("expected reversal of %s, got %s", payment.ID, reversal.ReversesID)
		}
		testutil.AssertDecimal(t, "reversal amount", "5000", reversal.Amount)

		stored, err = svc.ledger.GetPosition(ctx, account.ID, pos.ID)
		testutil.AssertNoError(t, err)
		testutil.AssertDecimal(t, "invested", "0", stored.TotalInvested)
		if stored.Installments[0].IsPaid() {
			t.Error("expected installment 1 to be unpaid after reversal")
		}

		_, err = svc.ledger.ReversePayment(ctx, account.ID, payment.ID, testutil.Date(2024, 3, 21))
		testutil.AssertAppError(t, err, "ALREADY_REVERSED")

		agg := aggregateOf(t, svc, account.ID)
		testutil.AssertDecimal(t, "aggregate invested", "0", agg.TotalInvested)
		testutil.AssertDecimal(t, "aggregate cash", "0", agg.TotalCashBalance)
	})

	t.Run("payment_errors", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newTestServices(db)
		account := testutil.CreateTestAccount(t, db)
		contract := openContract(t, svc, account.ID, "0")
		sec := openSecurity(t, svc, account.ID, "1", "100", "0")

		tests := []struct {
			name string
			req  PaymentRequest
			code string
		}{
			{"missing_installment_number", PaymentRequest{PositionID: contract.ID}, "MISSING_REQUIRED_FIELD"},
			{"unknown_installment", PaymentRequest{PositionID: contract.ID, InstallmentNumber: intPtr(9)}, "INSTALLMENT_NOT_FOUND"},
			{"negative_installment", PaymentRequest{PositionID: contract.ID, InstallmentNumber: intPtr(-1)}, "INVALID_INPUT"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				req := tt.req
				req.AccountID = account.ID
				req.Date = testutil.Date(2024, 3, 12)
				_, err := svc.ledger.Pay(ctx, req)
				testutil.AssertAppError(t, err, tt.code)
			})
		}

		var opening models.Transaction
		db.Where("position_id = ?", sec.ID).First(&opening)
		_, err := svc.ledger.ReversePayment(ctx, account.ID, opening.ID, testutil.Date(2024, 3, 12))
		testutil.AssertAppError(t, err, "INVALID_TRANSACTION_TYPE")

		_, err = svc.ledger.ReversePayment(ctx, account.ID, "missing", testutil.Date(2024, 3, 12))
		testutil.AssertAppError(t, err, "TRANSACTION_NOT_FOUND")
	})
}

func TestCashEvents(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)
	svc := newTestServices(db)
	account := testutil.CreateTestAccount(t, db)
	sec := openSecurity(t, svc, account.ID, "10", "100", "0")

	_, err := svc.ledger.AddDividend(ctx, CashEventRequest{
		AccountID:  account.ID,
		PositionID: sec.ID,
		Date:       testutil.Date(2024, 4, 1),
		Amount:     dec("45"),
	})
	testutil.AssertNoError(t, err)

	_, err = svc.ledger.AddInterest(ctx, CashEventRequest{
		AccountID:  account.ID,
		PositionID: sec.ID,
		Date:       testutil.Date(2024, 4, 1),
		Amount:     dec("45"),
	})
	testutil.AssertAppError(t, err, "INVALID_TRANSACTION_TYPE")

	_, err = svc.ledger.AddDividend(ctx, CashEventRequest{
		AccountID:  account.ID,
		PositionID: sec.ID,
		Date:       testutil.Date(2024, 4, 1),
		Amount:     dec("0"),
	})
	testutil.AssertAppError(t, err, "INVALID_INPUT")

	stored, err := svc.ledger.GetPosition(ctx, account.ID, sec.ID)
	testutil.AssertNoError(t, err)
	testutil.AssertDecimal(t, "invested", "1000", stored.TotalInvested)

	agg := aggregateOf(t, svc, account.ID)
	testutil.AssertDecimal(t, "aggregate cash", "-955", agg.TotalCashBalance)
	if !agg.UpdatedAt.Equal(testutil.Date(2024, 4, 1)) {
		t.Errorf("expected aggregate dated 2024-04-01, got %s", agg.UpdatedAt)
	}
}

func TestSettleMaturedDebts(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)
	svc := newTestServices(db)
	account := testutil.CreateTestAccount(t, db)

	matured := openDebt(t, svc, account.ID, "20000", testutil.Date(2024, 5, 1))
	running := openDebt(t, svc, account.ID, "30000", testutil.Date(2026, 6, 1))

	settled, err := svc.ledger.SettleMaturedDebts(ctx, account.ID, testutil.Date(2024, 6, 1))
	testutil.AssertNoError(t, err)
	if len(settled) != 1 {
		t.Fatalf("expected 1 settlement, got %d", len(settled))
	}
	if settled[0].PositionID != matured.ID || settled[0].Type != models.TransactionTypeMaturedDebt {
		t.Errorf("unexpected settlement %+v", settled[0])
	}
	testutil.AssertDecimal(t, "settled amount", "20000", settled[0].Amount)
	if !settled[0].Date.Equal(testutil.Date(2024, 5, 1)) {
		t.Errorf("expected settlement on maturity date, got %s", settled[0].Date)
	}

	stored, err := svc.ledger.GetPosition(ctx, account.ID, matured.ID)
	testutil.AssertNoError(t, err)
	if !stored.IsClosed {
		t.Error("expected matured debt to be closed")
	}
	other, err := svc.ledger.GetPosition(ctx, account.ID, running.ID)
	testutil.AssertNoError(t, err)
	if other.IsClosed {
		t.Error("expected running debt to stay open")
	}

	again, err := svc.ledger.SettleMaturedDebts(ctx, account.ID, testutil.Date(2024, 6, 2))
	testutil.AssertNoError(t, err)
	if len(again) != 0 {
		t.Errorf("expected second sweep to settle nothing, got %d", len(again))
	}

	_, err = svc.ledger.Buy(ctx, TradeRequest{
		AccountID:  account.ID,
		PositionID: matured.ID,
		Date:       testutil.Date(2024, 6, 3),
		Units:      dec("1"),
		Amount:     dec("1000"),
	})
	testutil.AssertAppError(t, err, "INVALID_INPUT")

	agg := aggregateOf(t, svc, account.ID)
	testutil.AssertDecimal(t, "aggregate matured", "20000", agg.TotalMaturedDebt)
	testutil.AssertDecimal(t, "aggregate invested", "30000", agg.TotalInvested)
	testutil.AssertDecimal(t, "aggregate cash", "-30000", agg.TotalCashBalance)
}

func TestUpdateContractTerms(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)
	svc := newTestServices(db)
	account := testutil.CreateTestAccount(t, db)
	contract := openContract(t, svc, account.ID, "0")

	_, err := svc.ledger.Pay(ctx, PaymentRequest{
		AccountID:         account.ID,
		PositionID:        contract.ID,
		Date:              testutil.Date(2024, 3, 10),
		InstallmentNumber: intPtr(1),
	})
	testutil.AssertNoError(t, err)

	updated, err := svc.ledger.UpdateContractTerms(ctx, ContractTermsRequest{
		AccountID:            account.ID,
		PositionID:           contract.ID,
		Frequency:            models.FrequencyMonthly,
		InstallmentAmount:    dec("2500"),
		TotalContractPrice:   dec("20000"),
		FirstInstallmentDate: testutil.Date(2024, 3, 10),
	})
	testutil.AssertNoError(t, err)

	if len(updated.Installments) != 8 {
		t.Fatalf("expected 8 installments, got %d", len(updated.Installments))
	}
	first := updated.Installments[0]
	if !first.IsPaid() {
		t.Error("expected paid installment to survive regeneration")
	}
	testutil.AssertDecimal(t, "paid amount", "5000", first.PaidAmount)
	testutil.AssertDecimal(t, "invested", "5000", updated.TotalInvested)

	stored, err := svc.ledger.GetPosition(ctx, account.ID, contract.ID)
	testutil.AssertNoError(t, err)
	if len(stored.Installments) != 8 {
		t.Errorf("expected 8 stored installments, got %d", len(stored.Installments))
	}
	if stored.InstallmentFrequency != models.FrequencyMonthly {
		t.Errorf("expected monthly frequency, got %s", stored.InstallmentFrequency)
	}

	sec := openSecurity(t, svc, account.ID, "1", "1", "0")
	_, err = svc.ledger.UpdateContractTerms(ctx, ContractTermsRequest{
		AccountID:            account.ID,
		PositionID:           sec.ID,
		Frequency:            models.FrequencyMonthly,
		InstallmentAmount:    dec("2500"),
		TotalContractPrice:   dec("20000"),
		FirstInstallmentDate: testutil.Date(2024, 3, 10),
	})
	testutil.AssertAppError(t, err, "INVALID_INPUT")
}

func TestDeleteInstallment(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)
	svc := newTestServices(db)
	account := testutil.CreateTestAccount(t, db)
	contract := openContract(t, svc, account.ID, "0")

	_, err := svc.ledger.Pay(ctx, PaymentRequest{
		AccountID:         account.ID,
		PositionID:        contract.ID,
		Date:              testutil.Date(2024, 3, 10),
		InstallmentNumber: intPtr(1),
	})
	testutil.AssertNoError(t, err)

	pos, err := svc.ledger.DeleteInstallment(ctx, account.ID, contract.ID, 4)
	testutil.AssertNoError(t, err)
	if len(pos.Installments) != 3 {
		t.Errorf("expected 3 installments, got %d", len(pos.Installments))
	}

	var stored int64
	db.Model(&models.Installment{}).Where("position_id = ?", contract.ID).Count(&stored)
	if stored != 3 {
		t.Errorf("expected 3 stored installments, got %d", stored)
	}

	_, err = svc.ledger.DeleteInstallment(ctx, account.ID, contract.ID, 1)
	testutil.AssertAppError(t, err, "INSTALLMENT_ALREADY_PAID")

	_, err = svc.ledger.DeleteInstallment(ctx, account.ID, contract.ID, 4)
	testutil.AssertAppError(t, err, "INSTALLMENT_NOT_FOUND")
}

func TestRunAtomicConflicts(t *testing.T) {
	ctx := context.Background()

	bump := func(db *gorm.DB, positionID string) {
		db.Model(&models.Position{}).Where("id = ?", positionID).UpdateColumn("version", gorm.Expr("version + 1"))
	}

	t.Run("retries_after_concurrent_write", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newTestServices(db)
		account := testutil.CreateTestAccount(t, db)
		pos := openSecurity(t, svc, account.ID, "10", "100", "0")

		attempts := 0
		svc.store.afterRead = func(attempt int) {
			attempts = attempt
			if attempt == 1 {
				bump(db, pos.ID)
			}
		}

		_, err := svc.ledger.Buy(ctx, TradeRequest{
			AccountID:  account.ID,
			PositionID: pos.ID,
			Date:       testutil.Date(2024, 2, 1),
			Units:      dec("10"),
			UnitPrice:  dec("100"),
		})
		testutil.AssertNoError(t, err)
		if attempts != 2 {
			t.Errorf("expected 2 attempts, got %d", attempts)
		}

		stored, err := svc.ledger.GetPosition(ctx, account.ID, pos.ID)
		testutil.AssertNoError(t, err)
		testutil.AssertDecimal(t, "units", "20", stored.TotalUnits)
		if stored.Version != 2 {
			t.Errorf("expected version 2, got %d", stored.Version)
		}
		if n := countTransactions(db, account.ID); n != 2 {
			t.Errorf("expected 2 transactions, got %d", n)
		}
	})

	t.Run("exhausted_retries", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newTestServices(db)
		account := testutil.CreateTestAccount(t, db)
		pos := openSecurity(t, svc, account.ID, "10", "100", "0")

		attempts := 0
		svc.store.afterRead = func(attempt int) {
			attempts = attempt
			bump(db, pos.ID)
		}

		_, err := svc.ledger.Buy(ctx, TradeRequest{
			AccountID:  account.ID,
			PositionID: pos.ID,
			Date:       testutil.Date(2024, 2, 1),
			Units:      dec("10"),
			UnitPrice:  dec("100"),
		})
		testutil.AssertAppError(t, err, "TRANSACTION_CONFLICT")
		if attempts != 4 {
			t.Errorf("expected 4 attempts, got %d", attempts)
		}

		svc.store.afterRead = nil
		stored, err := svc.ledger.GetPosition(ctx, account.ID, pos.ID)
		testutil.AssertNoError(t, err)
		testutil.AssertDecimal(t, "units", "10", stored.TotalUnits)
		if n := countTransactions(db, account.ID); n != 1 {
			t.Errorf("expected only the opening transaction, got %d", n)
		}
		agg := aggregateOf(t, svc, account.ID)
		testutil.AssertDecimal(t, "aggregate invested", "1000", agg.TotalInvested)
	})
}

func TestListTransactions(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)
	svc := newTestServices(db)
	account := testutil.CreateTestAccount(t, db)
	sec := openSecurity(t, svc, account.ID, "10", "100", "0")
	contract := openContract(t, svc, account.ID, "0")

	for _, n := range []int{1, 2} {
		_, err := svc.ledger.Pay(ctx, PaymentRequest{
			AccountID:         account.ID,
			PositionID:        contract.ID,
			Date:              testutil.Date(2024, time.Month(3*n), 10),
			InstallmentNumber: intPtr(n),
		})
		testutil.AssertNoError(t, err)
	}

	all, err := svc.ledger.ListTransactions(ctx, account.ID, TransactionFilter{}, pagination.PageRequest{})
	testutil.AssertNoError(t, err)
	if all.TotalItems != 3 {
		t.Errorf("expected 3 transactions, got %d", all.TotalItems)
	}
	if all.Data[0].Date.Before(all.Data[len(all.Data)-1].Date) {
		t.Error("expected newest transactions first")
	}

	payment := models.TransactionTypePayment
	payments, err := svc.ledger.ListTransactions(ctx, account.ID, TransactionFilter{Type: &payment}, pagination.PageRequest{PageSize: 1})
	testutil.AssertNoError(t, err)
	if payments.TotalItems != 2 || len(payments.Data) != 1 || payments.TotalPages != 2 {
		t.Errorf("unexpected payment page: total=%d len=%d pages=%d", payments.TotalItems, len(payments.Data), payments.TotalPages)
	}

	forSec, err := svc.store.GetTransactionsForPosition(ctx, account.ID, sec.ID)
	testutil.AssertNoError(t, err)
	if len(forSec) != 1 || forSec[0].Type != models.TransactionTypeBuy {
		t.Errorf("expected the opening buy only, got %d transactions", len(forSec))
	}

	_, err = svc.ledger.ListTransactions(ctx, "missing", TransactionFilter{}, pagination.PageRequest{})
	testutil.AssertAppError(t, err, "ACCOUNT_NOT_FOUND")
}
