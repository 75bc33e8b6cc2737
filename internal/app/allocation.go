/**
 * @description
 * This file contains the allocation engine: the pure policy functions that
 * decide, from a pool balance and a set of claims, how much each claim
 * receives. Two policies exist: single fulfillment (all-or-nothing) and
 * proportional redistribution under insufficient funds. Neither policy touches
 * the ledger; they only compute amounts.
 *
 * @notes
 * - Proportional shares are computed on integer minor units with big.Int floor
 *   division, so the sum of allocations never exceeds the pool and rounding is
 *   exact. The rounding remainder stays in the pool by design.
 *
 * @dependencies
 * - errors, math/big: Standard Go libraries.
 * - internal/domain: Amount type and request models.
 */

package app

import (
	"errors"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/aidring/pool-service/internal/domain"
)

// Protocol fee charged on every payout: fee = floor(gross * 5%), collected to
// the treasury as the first settlement leg.
const (
	FeeRateNumerator   = 5
	FeeRateDenominator = 100
)

var (
	// ErrInsufficientPool indicates a single fulfillment whose requested amount
	// exceeds the pool. Single fulfillment is all-or-nothing.
	ErrInsufficientPool = errors.New("pool balance is insufficient for the requested amount")
	// ErrEmptyPool indicates a redistribution attempted against a zero pool.
	ErrEmptyPool = errors.New("pool is empty")
)

// claimAllocation pairs one open request with the amount the active policy
// granted it.
type claimAllocation struct {
	request   *domain.Request
	allocated domain.Amount
	full      bool
}

// allocateSingle applies the single-fulfillment policy: the request is
// eligible iff its full amount fits in the pool, and it is then allocated
// exactly that amount. There is no partial fulfillment under this policy.
func allocateSingle(requested, pool domain.Amount) (domain.Amount, error) {
	if requested.Cmp(pool) > 0 {
		return domain.Amount{}, ErrInsufficientPool
	}
	return requested, nil
}

// allocateProportional applies the redistribution policy over the ordered set
// of open requests. With total demand T and pool P, each request receives
// R_i * min(1, P/T), floored to the minor unit. When the ratio is below one,
// every touched request counts as partially satisfied, regardless of whether
// its floored share happens to equal its requested amount.
//
// An empty request set is a no-op, reported via the second return value rather
// than an error. A zero pool fails with ErrEmptyPool.
func allocateProportional(open []*domain.Request, pool domain.Amount) ([]claimAllocation, bool, error) {
	if len(open) == 0 {
		return nil, true, nil
	}

	total := domain.ZeroAmount()
	for _, r := range open {
		total = total.Add(r.RequestedAmount)
	}
	if total.IsZero() {
		return nil, true, nil
	}
	if pool.IsZero() {
		return nil, false, ErrEmptyPool
	}

	// Ratio >= 1: everyone gets exactly what they asked for.
	if pool.Cmp(total) >= 0 {
		allocations := make([]claimAllocation, 0, len(open))
		for _, r := range open {
			allocations = append(allocations, claimAllocation{
				request:   r,
				allocated: r.RequestedAmount,
				full:      true,
			})
		}
		return allocations, false, nil
	}

	poolUnits := pool.MinorUnits()
	totalUnits := total.MinorUnits()

	allocations := make([]claimAllocation, 0, len(open))
	for _, r := range open {
		// floor(R_i * P / T) on integer minor units.
		share := new(big.Int).Mul(r.RequestedAmount.MinorUnits(), poolUnits)
		share.Quo(share, totalUnits)
		allocated, err := domain.AmountFromMinorUnits(share)
		if err != nil {
			return nil, false, err
		}
		allocations = append(allocations, claimAllocation{
			request:   r,
			allocated: allocated,
			full:      false,
		})
	}
	return allocations, false, nil
}

// splitPayout divides a gross allocation into its two settlement legs:
// fee = floor(gross * FEE_RATE) to the treasury, net = gross - fee to the
// recipient.
func splitPayout(gross domain.Amount) (fee, net domain.Amount) {
	fee = gross.MulRate(FeeRateNumerator, FeeRateDenominator)
	net, _ = gross.Sub(fee)
	return fee, net
}

// allocationRatio renders min(1, P/T) as a decimal string for reporting.
func allocationRatio(pool, total domain.Amount) string {
	if total.IsZero() {
		return "0"
	}
	if pool.Cmp(total) >= 0 {
		return "1"
	}
	p := decimal.NewFromBigInt(pool.MinorUnits(), 0)
	t := decimal.NewFromBigInt(total.MinorUnits(), 0)
	return p.DivRound(t, domain.MinorUnitDigits).String()
}
