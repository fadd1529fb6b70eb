// Package installments computes the financing plans offered at checkout and
// the total cost disclosure that goes with them.
package installments

import (
	"fmt"
	"math"

	"github.com/vitrineapp/vitrine/internal/gateway"
)

// Options shapes the plan table when no gateway tariff is available.
type Options struct {
	MaxInstallments          int
	InterestFreeInstallments int
	MonthlyInterestRatePct   float64
	MinInstallmentCents      int64
}

// DefaultOptions mirrors the common Brazilian card arrangement.
func DefaultOptions() Options {
	return Options{
		MaxInstallments:          12,
		InterestFreeInstallments: 3,
		MonthlyInterestRatePct:   1.99,
		MinInstallmentCents:      500,
	}
}

// Plan is one financing option. TotalAmountCents is what the buyer pays over
// the full schedule; CFTAnnualPct is the disclosed yearly cost.
type Plan struct {
	Quantity               int     `json:"quantity"`
	InstallmentAmountCents int64   `json:"installment_amount_cents"`
	TotalAmountCents       int64   `json:"total_amount_cents"`
	InterestRatePct        float64 `json:"interest_rate_pct"`
	HasInterest            bool    `json:"has_interest"`
	CFTAnnualPct           float64 `json:"cft_annual_pct"`
	Message                string  `json:"message"`
}

// Calculate builds the plan table for an amount using a flat monthly rate.
// Single payment is always offered interest free; higher quantities drop out
// once the per-installment amount falls under the configured minimum.
func Calculate(amountCents int64, opts Options) []Plan {
	if amountCents <= 0 {
		return nil
	}
	if opts.MaxInstallments < 1 {
		opts.MaxInstallments = 1
	}

	plans := make([]Plan, 0, opts.MaxInstallments)
	for q := 1; q <= opts.MaxInstallments; q++ {
		rate := opts.MonthlyInterestRatePct
		if q <= opts.InterestFreeInstallments || q == 1 {
			rate = 0
		}
		plan := buildPlan(amountCents, q, rate)
		if q > 1 && opts.MinInstallmentCents > 0 && plan.InstallmentAmountCents < opts.MinInstallmentCents {
			break
		}
		plans = append(plans, plan)
	}
	return plans
}

// CalculateWithRates builds plans from gateway-quoted tariffs, keeping the
// same single-payment and minimum-installment rules.
func CalculateWithRates(amountCents int64, rates []gateway.InstallmentRate, opts Options) []Plan {
	if amountCents <= 0 || len(rates) == 0 {
		return nil
	}

	plans := make([]Plan, 0, len(rates))
	for _, r := range rates {
		if r.Quantity < 1 {
			continue
		}
		if opts.MaxInstallments > 0 && r.Quantity > opts.MaxInstallments {
			continue
		}
		rate := r.MonthlyRatePct
		if r.Quantity == 1 {
			rate = 0
		}
		plan := buildPlan(amountCents, r.Quantity, rate)
		if r.Quantity > 1 && opts.MinInstallmentCents > 0 && plan.InstallmentAmountCents < opts.MinInstallmentCents {
			continue
		}
		plans = append(plans, plan)
	}
	return plans
}

// buildPlan applies flat simple interest: total = amount * (1 + n*rate/100).
func buildPlan(amountCents int64, quantity int, monthlyRatePct float64) Plan {
	total := amountCents
	if monthlyRatePct > 0 {
		total = int64(math.Round(float64(amountCents) * (1 + float64(quantity)*monthlyRatePct/100)))
	}
	installment := (total + int64(quantity)/2) / int64(quantity)

	plan := Plan{
		Quantity:               quantity,
		InstallmentAmountCents: installment,
		TotalAmountCents:       total,
		InterestRatePct:        monthlyRatePct,
		HasInterest:            monthlyRatePct > 0,
	}
	if plan.HasInterest {
		plan.CFTAnnualPct = math.Round(monthlyRatePct*12*100) / 100
		plan.Message = fmt.Sprintf("%dx de %s com juros (%s%% a.m.)", quantity, FormatBRL(installment), formatRate(monthlyRatePct))
	} else {
		plan.Message = fmt.Sprintf("%dx de %s sem juros", quantity, FormatBRL(installment))
	}
	return plan
}

// FormatBRL renders cents as a Brazilian currency string, dots for thousands
// and a comma before the cents.
func FormatBRL(cents int64) string {
	negative := cents < 0
	if negative {
		cents = -cents
	}
	reais := cents / 100
	rest := cents % 100

	digits := fmt.Sprintf("%d", reais)
	var grouped []byte
	for i, d := range []byte(digits) {
		if i > 0 && (len(digits)-i)%3 == 0 {
			grouped = append(grouped, '.')
		}
		grouped = append(grouped, d)
	}

	sign := ""
	if negative {
		sign = "-"
	}
	return fmt.Sprintf("%sR$ %s,%02d", sign, grouped, rest)
}

func formatRate(rate float64) string {
	s := fmt.Sprintf("%.2f", rate)
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			out[i] = ','
		} else {
			out[i] = s[i]
		}
	}
	return string(out)
}
