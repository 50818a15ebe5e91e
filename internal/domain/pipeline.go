package domain

import "time"

// Step names one ledger or AMM operation in the finalization pipeline.
type Step string

const (
	StepCheckVictory Step = "check_victory"
	StepFinalize     Step = "finalize_duel"
	StepWithdraw     Step = "withdraw_for_listing"
	StepCreatePool   Step = "create_pool"
)

// TxOutcome is what the transaction layer reports for one submitted
// instruction. A non-nil Err is unclassified; the idempotency guard decides
// what it means.
type TxOutcome struct {
	Success bool
	TxID    string
	Err     *LedgerError
}

// StepResult records a single step of a pipeline run.
type StepResult struct {
	Step    Step      `json:"step"`
	Success bool      `json:"success"`
	Skipped bool      `json:"skipped,omitempty"`
	TxID    string    `json:"tx_id,omitempty"`
	Kind    ErrorKind `json:"kind,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// PlunderReport captures the spoils transfer around the finalize step.
// Values are base units.
type PlunderReport struct {
	WinnerID       string `json:"winner_id"`
	LoserID        string `json:"loser_id"`
	WinnerBefore   uint64 `json:"winner_before"`
	LoserBefore    uint64 `json:"loser_before"`
	Spoils         uint64 `json:"spoils"`
	PlatformFee    uint64 `json:"platform_fee"`
	WinnerExpected uint64 `json:"winner_expected"`
	LoserExpected  uint64 `json:"loser_expected"`
	WinnerActual   uint64 `json:"winner_actual"`
	LoserActual    uint64 `json:"loser_actual"`
	Verified       bool   `json:"verified"`
	Matched        bool   `json:"matched"`
}

// ExecuteResult is returned by one pipeline invocation for one asset.
type ExecuteResult struct {
	RunID       string         `json:"run_id"`
	AssetID     string         `json:"asset_id"`
	Success     bool           `json:"success"`
	Steps       []StepResult   `json:"steps"`
	FinalStatus BattleStatus   `json:"final_status"`
	PoolID      string         `json:"pool_id,omitempty"`
	PoolURL     string         `json:"pool_url,omitempty"`
	Error       string         `json:"error,omitempty"`
	ErrorKind   ErrorKind      `json:"error_kind,omitempty"`
	FailedStep  Step           `json:"failed_step,omitempty"`
	Plunder     *PlunderReport `json:"plunder_report,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`

	Err *PipelineError `json:"-"`
}

// Fail records err as the terminal failure of the run.
func (r *ExecuteResult) Fail(err *PipelineError) {
	r.Success = false
	r.Err = err
	r.Error = err.Error()
	r.ErrorKind = err.Kind
	r.FailedStep = err.Step
	r.FinalStatus = err.Status
}

// Submissions counts steps that produced a ledger or AMM transaction.
func (r *ExecuteResult) Submissions() int {
	n := 0
	for _, s := range r.Steps {
		if s.TxID != "" {
			n++
		}
	}
	return n
}

// ScanOutcome is the per-asset line of a scan summary.
type ScanOutcome struct {
	AssetID   string       `json:"asset_id"`
	Action    string       `json:"action"`
	Success   bool         `json:"success"`
	Status    BattleStatus `json:"status"`
	PoolID    string       `json:"pool_id,omitempty"`
	Error     string       `json:"error,omitempty"`
	ErrorKind ErrorKind    `json:"error_kind,omitempty"`
}

// Scan actions.
const (
	ScanActionExecuted    = "executed"
	ScanActionCorrected   = "corrected"
	ScanActionSkipped     = "skipped"
	ScanActionStale       = "stale"
	ScanActionQuarantined = "quarantined"
	ScanActionReadFailed  = "read_failed"
)

// ScanResult summarises one scanner pass.
type ScanResult struct {
	Scanned   int           `json:"scanned"`
	Processed []ScanOutcome `json:"processed"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
}

// StepOutcome is the value object the pipeline hands to the index writer after
// each successful or already-done step.
type StepOutcome struct {
	AssetID   string
	Step      Step
	Status    BattleStatus
	TxID      string
	Skipped   bool
	Deposited uint64
	Volume    uint64
	Plunder   *PlunderReport
	PoolID    string
	PoolURL   string
	At        time.Time
}
