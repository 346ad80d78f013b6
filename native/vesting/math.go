package vesting

import (
	"math"

	"github.com/holiman/uint256"
)

// vestingWindow returns end-start, failing when the subtraction leaves the
// int64 range or the window is empty.
func vestingWindow(g *Grant) (int64, error) {
	start, end := g.StartTime, g.EndTime
	if (start > 0 && end < math.MinInt64+start) || (start < 0 && end > math.MaxInt64+start) {
		return 0, ErrCalculationOverflow
	}
	window := end - start
	if window == 0 {
		return 0, ErrInvalidTotalVestingTime
	}
	return window, nil
}

// VestedAmount returns the cumulative amount of g that has vested by now,
// irrespective of withdrawals. Vesting is linear between StartTime and
// EndTime; the whole amount is vested from EndTime on. The interpolation is
// a single multiply-then-divide and fails with ErrCalculationOverflow when
// the product does not fit the amount width.
func VestedAmount(g *Grant, now int64) (uint64, error) {
	if g == nil {
		return 0, ErrGrantNotFound
	}
	window, err := vestingWindow(g)
	if err != nil {
		return 0, err
	}
	if now >= g.EndTime {
		return g.TotalAmount, nil
	}
	if now <= g.StartTime {
		return 0, nil
	}
	// now lies strictly inside (start, end), so both differences are positive
	// and the unsigned subtraction is exact.
	elapsed := uint64(now) - uint64(g.StartTime)
	product, overflow := new(uint256.Int).MulOverflow(
		uint256.NewInt(g.TotalAmount),
		uint256.NewInt(elapsed),
	)
	if overflow || !product.IsUint64() {
		return 0, ErrCalculationOverflow
	}
	vested := new(uint256.Int).Div(product, uint256.NewInt(uint64(window)))
	return vested.Uint64(), nil
}

// checkCliff gates claiming on the grant's cliff timestamp. The comparison
// fails once now is past the cliff, matching the ledger's historical
// behaviour.
func checkCliff(g *Grant, now int64) error {
	if now > g.CliffTime {
		return ErrClaimNotAvailableYet
	}
	return nil
}

// ClaimableAmount returns what the beneficiary may withdraw at now: the vested
// amount minus what was already withdrawn. It fails with ErrNoTokensToClaim
// when nothing new has vested.
func ClaimableAmount(g *Grant, now int64) (uint64, error) {
	if g == nil {
		return 0, ErrGrantNotFound
	}
	if err := checkCliff(g, now); err != nil {
		return 0, err
	}
	vested, err := VestedAmount(g, now)
	if err != nil {
		return 0, err
	}
	if vested <= g.TotalWithdrawn {
		return 0, ErrNoTokensToClaim
	}
	return vested - g.TotalWithdrawn, nil
}
