package notify

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/battlekeeper/internal/domain"
)

// Operator alert events.
const (
	EventBattleCompleted = "battle_completed"
	EventPlunderMismatch = "plunder_mismatch"
	EventPipelineFatal   = "pipeline_fatal"
	EventScanSummary     = "scan_summary"
)

var titles = map[string]string{
	EventBattleCompleted: "Battle completed",
	EventPlunderMismatch: "Plunder mismatch",
	EventPipelineFatal:   "Pipeline needs an operator",
	EventScanSummary:     "Battle scan",
}

// Title returns the headline used for event.
func Title(event string) string {
	if t, ok := titles[event]; ok {
		return t
	}
	return event
}

// units renders base units as a decimal value with nine places.
func units(v uint64) string {
	return fmt.Sprintf("%d.%09d", v/1_000_000_000, v%1_000_000_000)
}

// FormatCompletion describes a finished battle.
func FormatCompletion(r domain.WinnerRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Winner: %s", r.WinnerID)
	if r.WinnerSymbol != "" {
		fmt.Fprintf(&b, " ($%s)", r.WinnerSymbol)
	}
	fmt.Fprintf(&b, "\nLoser: %s", r.LoserID)
	fmt.Fprintf(&b, "\nSpoils: %s  Fee: %s", units(r.Spoils), units(r.PlatformFee))
	fmt.Fprintf(&b, "\nPool: %s", r.PoolID)
	if r.PoolURL != "" {
		fmt.Fprintf(&b, "\n%s", r.PoolURL)
	}
	return b.String()
}

// FormatMismatch describes a plunder verification mismatch.
func FormatMismatch(p domain.PlunderReport) string {
	return fmt.Sprintf(
		"Winner %s expected %s observed %s\nLoser %s expected %s observed %s",
		p.WinnerID, units(p.WinnerExpected), units(p.WinnerActual),
		p.LoserID, units(p.LoserExpected), units(p.LoserActual),
	)
}

// FormatFailure describes a run that stopped on a fatal error.
func FormatFailure(r domain.ExecuteResult) string {
	step := string(r.FailedStep)
	if step == "" {
		step = "setup"
	}
	return fmt.Sprintf("Asset %s stopped at %s (status %s)\n%s",
		r.AssetID, step, r.FinalStatus, r.Error)
}

// FormatScan summarises a scan.
func FormatScan(res domain.ScanResult) string {
	counts := make(map[string]int)
	var failures []string
	for _, o := range res.Processed {
		counts[o.Action]++
		if o.Action == domain.ScanActionExecuted && !o.Success {
			failures = append(failures, fmt.Sprintf("%s: %s", o.AssetID, o.ErrorKind))
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Scanned %d in %s", res.Scanned, res.Duration.Round(1e6))
	for _, action := range []string{
		domain.ScanActionExecuted, domain.ScanActionCorrected, domain.ScanActionStale,
		domain.ScanActionQuarantined, domain.ScanActionReadFailed,
	} {
		if counts[action] > 0 {
			fmt.Fprintf(&b, "\n%s: %d", action, counts[action])
		}
	}
	for _, f := range failures {
		fmt.Fprintf(&b, "\nfailed %s", f)
	}
	return b.String()
}
