// Package battle drives a won battle through victory, finalization,
// withdrawal and pool creation.
package battle

import (
	"errors"
	"fmt"
	"time"
)

const bpsDenominator = 10_000

// WrappedNativeMint is the token mint that represents the native value unit
// on the AMM.
const WrappedNativeMint = "So11111111111111111111111111111111111111112"

// Params is the immutable configuration shared by every pipeline component.
// It is built once at startup and passed by value.
type Params struct {
	Thresholds Thresholds

	SpoilsBps      uint64
	PlatformFeeBps uint64
	ToleranceUnits uint64

	// FeeReserve is kept back from the keeper's native balance when funding a
	// pool so the keeper can still pay for transactions.
	FeeReserve uint64

	PollInterval       time.Duration
	PropagationTimeout time.Duration
	RunBudget          time.Duration
	LeaseGrace         time.Duration

	// ConfirmTimeout bounds how long a submitted transaction is waited on. The
	// wait is detached from the run context, so it can outlast RunBudget.
	ConfirmTimeout time.Duration

	RewardPoints int64
	NativeMint   string
}

// DefaultParams mirrors the constants compiled into the battle program.
func DefaultParams() Params {
	return Params{
		Thresholds:         DefaultThresholds(),
		SpoilsBps:          5_000,
		PlatformFeeBps:     500,
		ToleranceUnits:     10_000_000,
		FeeReserve:         50_000_000,
		PollInterval:       2 * time.Second,
		PropagationTimeout: 60 * time.Second,
		RunBudget:          5 * time.Minute,
		LeaseGrace:         30 * time.Second,
		ConfirmTimeout:     90 * time.Second,
		RewardPoints:       1_000,
		NativeMint:         WrappedNativeMint,
	}
}

// Validate reports every inconsistent setting at once.
func (p Params) Validate() error {
	var errs []error
	if p.Thresholds.TargetDeposited == 0 {
		errs = append(errs, errors.New("target deposited must be positive"))
	}
	if p.Thresholds.QualifyBps == 0 || p.Thresholds.QualifyBps > bpsDenominator {
		errs = append(errs, fmt.Errorf("qualify bps %d out of range", p.Thresholds.QualifyBps))
	}
	if p.SpoilsBps > bpsDenominator {
		errs = append(errs, fmt.Errorf("spoils bps %d out of range", p.SpoilsBps))
	}
	if p.PlatformFeeBps > bpsDenominator {
		errs = append(errs, fmt.Errorf("platform fee bps %d out of range", p.PlatformFeeBps))
	}
	if p.PollInterval <= 0 {
		errs = append(errs, errors.New("poll interval must be positive"))
	}
	if p.PropagationTimeout < p.PollInterval {
		errs = append(errs, errors.New("propagation timeout must be at least one poll interval"))
	}
	if p.RunBudget <= 0 {
		errs = append(errs, errors.New("run budget must be positive"))
	}
	if p.ConfirmTimeout <= 0 {
		errs = append(errs, errors.New("confirm timeout must be positive"))
	}
	if p.LeaseGrace < 0 {
		errs = append(errs, errors.New("lease grace must not be negative"))
	}
	if p.NativeMint == "" {
		errs = append(errs, errors.New("native mint is required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("battle: invalid params: %w", errors.Join(errs...))
	}
	return nil
}

// LeaseTTL is how long a per-asset lease lives. A submission made just before
// the run budget runs out is still waited on for up to ConfirmTimeout, so the
// lease covers both.
func (p Params) LeaseTTL() time.Duration {
	return p.RunBudget + p.ConfirmTimeout + p.LeaseGrace
}
