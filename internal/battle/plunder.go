package battle

import "github.com/alanyoungcy/battlekeeper/internal/domain"

// ExpectPlunder computes the balances finalize_duel should leave behind. The
// winner takes SpoilsBps of the loser's value and then pays PlatformFeeBps on
// the combined amount.
func ExpectPlunder(p Params, winnerBefore, loserBefore uint64) domain.PlunderReport {
	spoils := loserBefore * p.SpoilsBps / bpsDenominator
	total := winnerBefore + spoils
	fee := total * p.PlatformFeeBps / bpsDenominator
	return domain.PlunderReport{
		WinnerBefore:   winnerBefore,
		LoserBefore:    loserBefore,
		Spoils:         spoils,
		PlatformFee:    fee,
		WinnerExpected: total - fee,
		LoserExpected:  loserBefore - spoils,
	}
}

// VerifyPlunder fills in the observed balances and reports whether both sit
// within tolerance of the expectation.
func VerifyPlunder(p Params, r *domain.PlunderReport, winnerActual, loserActual uint64) bool {
	r.WinnerActual = winnerActual
	r.LoserActual = loserActual
	r.Verified = true
	r.Matched = within(winnerActual, r.WinnerExpected, p.ToleranceUnits) &&
		within(loserActual, r.LoserExpected, p.ToleranceUnits)
	return r.Matched
}

func within(a, b, tol uint64) bool {
	if a > b {
		return a-b <= tol
	}
	return b-a <= tol
}
