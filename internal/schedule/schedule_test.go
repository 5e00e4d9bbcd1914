package schedule

import (
	"testing"
	"time"

	apperrors "folio/internal/errors"
	"folio/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func quarterlyTerms() models.RealEstateTerms {
	return models.RealEstateTerms{
		Frequency:            models.FrequencyQuarterly,
		InstallmentAmount:    dec("10000"),
		TotalContractPrice:   dec("45000"),
		FirstInstallmentDate: date(2024, 1, 31),
	}
}

func TestGenerate(t *testing.T) {
	t.Run("stops at contract price and trims last entry", func(t *testing.T) {
		got, err := Generate(quarterlyTerms())
		require.NoError(t, err)
		require.Len(t, got, 5)

		wantDue := []time.Time{*date(2024, 1, 31), *date(2024, 4, 30), *date(2024, 7, 31), *date(2024, 10, 31), *date(2025, 1, 31)}
		for i, inst := range got {
			assert.Equal(t, i+1, inst.Number)
			assert.Equal(t, wantDue[i], inst.DueDate, "installment %d", inst.Number)
			assert.Equal(t, models.InstallmentUnpaid, inst.Status)
		}
		assert.True(t, dec("5000").Equal(got[4].Amount), "last amount %s", got[4].Amount)
	})

	t.Run("stops after last installment date", func(t *testing.T) {
		terms := models.RealEstateTerms{
			Frequency:            models.FrequencyMonthly,
			InstallmentAmount:    dec("1000"),
			FirstInstallmentDate: date(2024, 1, 15),
			LastInstallmentDate:  date(2024, 6, 15),
		}
		got, err := Generate(terms)
		require.NoError(t, err)
		assert.Len(t, got, 6)
	})

	t.Run("down payment and maintenance", func(t *testing.T) {
		terms := quarterlyTerms()
		terms.DownPayment = dec("15000")
		terms.DownPaymentDate = date(2023, 12, 1)
		terms.MaintenanceAmount = dec("4000")

		got, err := Generate(terms)
		require.NoError(t, err)
		require.Len(t, got, 5)

		assert.Equal(t, DownPaymentNumber, got[0].Number)
		assert.True(t, got[0].IsDownPayment)
		assert.Equal(t, *date(2023, 12, 1), got[0].DueDate)

		assert.True(t, dec("10000").Equal(got[3].Amount))
		last := got[len(got)-1]
		assert.True(t, last.IsMaintenance)
		assert.Equal(t, 4, last.Number)
		assert.Equal(t, got[3].DueDate, last.DueDate)
	})

	t.Run("cap", func(t *testing.T) {
		terms := models.RealEstateTerms{
			Frequency:            models.FrequencyMonthly,
			InstallmentAmount:    dec("1"),
			TotalContractPrice:   dec("5000"),
			FirstInstallmentDate: date(2024, 1, 1),
		}
		_, err := Generate(terms)
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	})

	t.Run("invalid terms", func(t *testing.T) {
		tests := []struct {
			name   string
			mutate func(*models.RealEstateTerms)
			want   *apperrors.AppError
		}{
			{"no first date", func(r *models.RealEstateTerms) { r.FirstInstallmentDate = nil }, apperrors.ErrMissingRequiredField},
			{"bad frequency", func(r *models.RealEstateTerms) { r.Frequency = "weekly" }, apperrors.ErrInvalidInput},
			{"zero amount", func(r *models.RealEstateTerms) { r.InstallmentAmount = decimal.Zero }, apperrors.ErrMissingRequiredField},
			{"no end", func(r *models.RealEstateTerms) { r.TotalContractPrice = decimal.Zero }, apperrors.ErrMissingRequiredField},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				terms := quarterlyTerms()
				tt.mutate(&terms)
				_, err := Generate(terms)
				assert.ErrorIs(t, err, tt.want)
			})
		}
	})
}

func TestRegeneratePreservesPaidEntries(t *testing.T) {
	existing, err := Generate(quarterlyTerms())
	require.NoError(t, err)
	for i := range existing {
		existing[i].ID = "inst-" + string(rune('a'+i))
	}
	paidAt := *date(2024, 2, 1)
	existing[0].Status = models.InstallmentPaid
	existing[0].PaidAmount = dec("10000")
	existing[0].PaidAt = &paidAt
	existing[0].ChequeReference = "CHQ-001"
	existing[0].Description = "first cheque"

	terms := quarterlyTerms()
	terms.InstallmentAmount = dec("15000")

	got, err := Regenerate(existing, terms)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, existing[0], got[0], "paid entry carried over verbatim")
	assert.True(t, dec("15000").Equal(got[1].Amount))
	assert.Equal(t, "inst-b", got[1].ID, "unpaid row identity kept")
	assert.True(t, dec("15000").Equal(got[2].Amount))
	assert.True(t, dec("10000").Equal(PaidTotal(got)))
}

func TestRegenerateMovesPaidMaintenancePastExtendedPlan(t *testing.T) {
	terms := models.RealEstateTerms{
		Frequency:            models.FrequencyMonthly,
		InstallmentAmount:    dec("1000"),
		FirstInstallmentDate: date(2024, 1, 15),
		LastInstallmentDate:  date(2024, 12, 15),
		MaintenanceAmount:    dec("500"),
	}
	existing, err := Generate(terms)
	require.NoError(t, err)
	require.Len(t, existing, 13)
	require.True(t, existing[12].IsMaintenance)
	require.Equal(t, 13, existing[12].Number)

	paidAt := *date(2024, 12, 20)
	existing[12].ID = "maintenance"
	existing[12].Status = models.InstallmentPaid
	existing[12].PaidAmount = dec("500")
	existing[12].PaidAt = &paidAt

	terms.LastInstallmentDate = date(2025, 12, 15)
	got, err := Regenerate(existing, terms)
	require.NoError(t, err)
	require.Len(t, got, 25)

	seen := make(map[int]bool, len(got))
	regular := 0
	for _, inst := range got {
		assert.False(t, seen[inst.Number], "duplicate number %d", inst.Number)
		seen[inst.Number] = true
		if !inst.IsMaintenance {
			regular++
			assert.False(t, inst.IsPaid(), "installment %d", inst.Number)
		}
	}
	assert.Equal(t, 24, regular)
	assert.Equal(t, *date(2024, 12, 15), got[11].DueDate)
	assert.Equal(t, *date(2025, 1, 15), got[12].DueDate, "installment 13 kept")
	assert.False(t, got[12].IsMaintenance)

	last := got[24]
	assert.True(t, last.IsMaintenance)
	assert.True(t, last.IsPaid())
	assert.Equal(t, 25, last.Number)
	assert.Equal(t, "maintenance", last.ID)
	assert.True(t, dec("500").Equal(PaidTotal(got)))
}

func TestRemove(t *testing.T) {
	existing, err := Generate(quarterlyTerms())
	require.NoError(t, err)
	existing[0].Status = models.InstallmentPaid
	existing[0].PaidAmount = dec("10000")

	got, err := Remove(existing, 3)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, []int{1, 2, 4, 5}, []int{got[0].Number, got[1].Number, got[2].Number, got[3].Number})
	assert.True(t, got[0].IsPaid())
	assert.Len(t, existing, 5, "input not modified")

	_, err = Remove(existing, 42)
	assert.ErrorIs(t, err, apperrors.ErrInstallmentNotFound)

	_, err = Remove(existing, 1)
	assert.ErrorIs(t, err, apperrors.ErrInstallmentAlreadyPaid)
}

func TestAddMonthsClampsDay(t *testing.T) {
	tests := []struct {
		from time.Time
		n    int
		want time.Time
	}{
		{*date(2024, 1, 31), 1, *date(2024, 2, 29)},
		{*date(2023, 1, 31), 1, *date(2023, 2, 28)},
		{*date(2024, 11, 15), 3, *date(2025, 2, 15)},
		{*date(2024, 5, 31), 12, *date(2025, 5, 31)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AddMonths(tt.from, tt.n))
	}
}
