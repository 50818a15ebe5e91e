package battle

// Thresholds are the victory conditions enforced by the battle program. The
// keeper checks them before submitting so it never pays for a transaction the
// program would reject.
type Thresholds struct {
	TargetDeposited uint64
	QualifyBps      uint64
	MinVolume       uint64
}

// DefaultThresholds returns the program's production values.
func DefaultThresholds() Thresholds {
	return Thresholds{
		TargetDeposited: 37_700_000_000,
		QualifyBps:      9_950,
		MinVolume:       41_500_000_000,
	}
}

// MinDeposited is the deposited value at which an asset counts as having
// reached its target.
func (t Thresholds) MinDeposited() uint64 {
	return t.TargetDeposited * t.QualifyBps / bpsDenominator
}

// VictoryAchieved reports whether both conditions hold.
func (t Thresholds) VictoryAchieved(deposited, volume uint64) bool {
	return deposited >= t.MinDeposited() && volume >= t.MinVolume
}
