// Package schedule builds and maintains the installment plan of a
// real-estate contract.
package schedule

import (
	"sort"
	"time"

	apperrors "folio/internal/errors"
	"folio/internal/models"

	"github.com/shopspring/decimal"
)

// MaxInstallments caps a generated schedule so malformed terms (a tiny
// installment against a huge price) cannot produce an unbounded plan.
const MaxInstallments = 1200

// DownPaymentNumber is the installment number reserved for the down payment.
const DownPaymentNumber = 0

// Generate produces an unpaid schedule from contract terms. Regular entries
// are numbered from 1 and spaced by the contract frequency starting at the
// first installment date. Generation stops once the cumulative amount,
// including any down payment, reaches the contract price or the next due
// date passes the last installment date. The final regular entry is trimmed
// so the schedule never exceeds the contract price.
func Generate(terms models.RealEstateTerms) ([]models.Installment, error) {
	if err := validate(terms); err != nil {
		return nil, err
	}

	var out []models.Installment
	cumulative := decimal.Zero

	if terms.DownPayment.IsPositive() {
		due := *terms.FirstInstallmentDate
		if terms.DownPaymentDate != nil && !terms.DownPaymentDate.IsZero() {
			due = *terms.DownPaymentDate
		}
		out = append(out, models.Installment{
			Number:        DownPaymentNumber,
			DueDate:       due,
			Amount:        terms.DownPayment,
			Status:        models.InstallmentUnpaid,
			Description:   "Down payment",
			IsDownPayment: true,
		})
		cumulative = cumulative.Add(terms.DownPayment)
	}

	price := terms.TotalContractPrice
	step := terms.Frequency.Months()
	number := 1
	for {
		due := AddMonths(*terms.FirstInstallmentDate, (number-1)*step)
		if terms.LastInstallmentDate != nil && due.After(*terms.LastInstallmentDate) {
			break
		}
		if price.IsPositive() && cumulative.GreaterThanOrEqual(price) {
			break
		}
		if number > MaxInstallments {
			return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "contract terms produce more than 1200 installments")
		}

		amount := terms.InstallmentAmount
		if price.IsPositive() {
			amount = decimal.Min(amount, price.Sub(cumulative))
		}
		out = append(out, models.Installment{
			Number:  number,
			DueDate: due,
			Amount:  amount,
			Status:  models.InstallmentUnpaid,
		})
		cumulative = cumulative.Add(amount)
		number++
	}

	if terms.MaintenanceAmount.IsPositive() {
		due := *terms.FirstInstallmentDate
		if len(out) > 0 {
			due = out[len(out)-1].DueDate
		}
		if terms.MaintenanceDate != nil && !terms.MaintenanceDate.IsZero() {
			due = *terms.MaintenanceDate
		}
		out = append(out, models.Installment{
			Number:        number,
			DueDate:       due,
			Amount:        terms.MaintenanceAmount,
			Status:        models.InstallmentUnpaid,
			Description:   "Maintenance deposit",
			IsMaintenance: true,
		})
	}

	return out, nil
}

// Regenerate recomputes the schedule after the contract terms changed.
// Paid entries are carried over verbatim (including their cheque reference
// and description) and win over a freshly generated entry with the same
// number; unpaid entries are replaced by the new plan. A paid maintenance
// entry never displaces a regular installment: when the new plan reaches
// its number it is moved past the last regular entry.
func Regenerate(existing []models.Installment, terms models.RealEstateTerms) ([]models.Installment, error) {
	fresh, err := Generate(terms)
	if err != nil {
		return nil, err
	}

	var maintenance *models.Installment
	byNumber := make(map[int]models.Installment, len(fresh)+len(existing))
	for i := range fresh {
		if fresh[i].IsMaintenance {
			maintenance = &fresh[i]
			continue
		}
		byNumber[fresh[i].Number] = fresh[i]
	}
	var displaced []models.Installment
	for _, inst := range existing {
		if !inst.IsPaid() {
			continue
		}
		if inst.IsMaintenance {
			maintenance = nil
			if _, taken := byNumber[inst.Number]; taken {
				displaced = append(displaced, inst)
				continue
			}
		}
		byNumber[inst.Number] = inst
	}
	maxNumber := DownPaymentNumber
	for n := range byNumber {
		if n > maxNumber {
			maxNumber = n
		}
	}
	for _, inst := range displaced {
		maxNumber++
		inst.Number = maxNumber
		byNumber[inst.Number] = inst
	}

	// Keep row identities for unpaid entries whose number survived.
	for _, inst := range existing {
		if inst.IsPaid() || inst.IsMaintenance {
			continue
		}
		if repl, ok := byNumber[inst.Number]; ok && !repl.IsPaid() {
			repl.ID = inst.ID
			repl.PositionID = inst.PositionID
			byNumber[inst.Number] = repl
		}
	}

	out := make([]models.Installment, 0, len(byNumber)+1)
	for _, inst := range byNumber {
		out = append(out, inst)
	}
	if maintenance != nil {
		m := *maintenance
		m.Number = maxNumber + 1
		for _, inst := range existing {
			if inst.IsMaintenance && !inst.IsPaid() {
				m.ID = inst.ID
				m.PositionID = inst.PositionID
			}
		}
		out = append(out, m)
	}
	sortByNumber(out)
	return out, nil
}

// Remove deletes the installment with the given number. Other entries keep
// their numbers and status. A paid installment must be reversed first so
// the position's invested total stays consistent.
func Remove(existing []models.Installment, number int) ([]models.Installment, error) {
	idx := -1
	for i := range existing {
		if existing[i].Number == number {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, apperrors.ErrInstallmentNotFound
	}
	if existing[idx].IsPaid() {
		return nil, apperrors.WithMessage(apperrors.ErrInstallmentAlreadyPaid, "reverse the payment before deleting the installment")
	}

	out := make([]models.Installment, 0, len(existing)-1)
	out = append(out, existing[:idx]...)
	out = append(out, existing[idx+1:]...)
	return out, nil
}

// PaidTotal sums the paid amounts of all paid entries.
func PaidTotal(installments []models.Installment) decimal.Decimal {
	total := decimal.Zero
	for _, inst := range installments {
		if inst.IsPaid() {
			total = total.Add(inst.PaidAmount)
		}
	}
	return total
}

// AddMonths moves t forward by n calendar months, clamping the day to the
// end of the target month (Jan 31 + 1 month is Feb 28/29).
func AddMonths(t time.Time, n int) time.Time {
	y, m, dd := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if dd > last {
		dd = last
	}
	return first.AddDate(0, 0, dd-1)
}

func validate(terms models.RealEstateTerms) error {
	if terms.FirstInstallmentDate == nil || terms.FirstInstallmentDate.IsZero() {
		return apperrors.WithMessage(apperrors.ErrMissingRequiredField, "first installment date is required")
	}
	if terms.Frequency.Months() == 0 {
		return apperrors.WithMessage(apperrors.ErrInvalidInput, "installment frequency must be monthly, quarterly or yearly")
	}
	if !terms.InstallmentAmount.IsPositive() {
		return apperrors.WithMessage(apperrors.ErrMissingRequiredField, "installment amount must be positive")
	}
	if !terms.TotalContractPrice.IsPositive() && terms.LastInstallmentDate == nil {
		return apperrors.WithMessage(apperrors.ErrMissingRequiredField, "total contract price or last installment date is required")
	}
	if terms.DownPayment.IsNegative() || terms.MaintenanceAmount.IsNegative() {
		return apperrors.WithMessage(apperrors.ErrInvalidInput, "down payment and maintenance cannot be negative")
	}
	return nil
}

func sortByNumber(installments []models.Installment) {
	sort.Slice(installments, func(i, j int) bool {
		return installments[i].Number < installments[j].Number
	})
}
