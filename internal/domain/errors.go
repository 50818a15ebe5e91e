package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")
	ErrUnknownLayout = errors.New("unknown account layout")
	ErrInvalidAsset  = errors.New("invalid asset identifier")
	ErrNoKeeper      = errors.New("keeper credential not configured")
	ErrUnderfunded   = errors.New("payer underfunded")
	ErrPoolRejected  = errors.New("pool request rejected")
)

// ErrorKind classifies a pipeline failure so callers decide what to do with
// it without reading message text.
type ErrorKind uint8

const (
	KindTransient ErrorKind = iota + 1
	KindAlreadyDone
	KindPrecondition
	KindFatal
	KindMismatch
	KindTimeout
	KindBusy
)

var kindNames = map[ErrorKind]string{
	KindTransient:    "transient",
	KindAlreadyDone:  "already_done",
	KindPrecondition: "precondition",
	KindFatal:        "fatal",
	KindMismatch:     "mismatch",
	KindTimeout:      "timeout",
	KindBusy:         "busy",
}

func (k ErrorKind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// MarshalText renders the kind by name.
func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText accepts a kind name as rendered by MarshalText.
func (k *ErrorKind) UnmarshalText(text []byte) error {
	for kind, name := range kindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("domain: unknown error kind %q", text)
}

// LedgerCode is a typed error code produced by the ledger program or the
// ledger runtime. Program codes start at 6000.
type LedgerCode uint32

const (
	CodeUnauthorized            LedgerCode = 6000
	CodeInvalidBattleStatus     LedgerCode = 6001
	CodeVictoryConditionsNotMet LedgerCode = 6002
	CodeNoFundsToWithdraw       LedgerCode = 6003
	CodeAlreadyFinalized        LedgerCode = 6004
	CodeInsufficientFunds       LedgerCode = 6005
	CodeOpponentMismatch        LedgerCode = 6006
	CodeAlreadyListed           LedgerCode = 6007

	// Runtime-level failures get codes above any program's custom range.
	CodeInsufficientFundsForFee LedgerCode = 0x10001
	CodeAccountNotFound         LedgerCode = 0x10002
	CodeBlockhashNotFound       LedgerCode = 0x10003
	CodeUnknown                 LedgerCode = 0
)

// LedgerCodeInfo describes how a code is treated by the idempotency guard.
type LedgerCodeInfo struct {
	Name        string
	AlreadyDone bool
	Fatal       bool
	Transient   bool
}

var ledgerCodes = map[LedgerCode]LedgerCodeInfo{
	CodeUnauthorized:            {Name: "Unauthorized", Fatal: true},
	CodeInvalidBattleStatus:     {Name: "InvalidBattleStatus"},
	CodeVictoryConditionsNotMet: {Name: "VictoryConditionsNotMet"},
	CodeNoFundsToWithdraw:       {Name: "NoFundsToWithdraw", AlreadyDone: true},
	CodeAlreadyFinalized:        {Name: "AlreadyFinalized", AlreadyDone: true},
	CodeInsufficientFunds:       {Name: "InsufficientFunds", Fatal: true},
	CodeOpponentMismatch:        {Name: "OpponentMismatch"},
	CodeAlreadyListed:           {Name: "AlreadyListed", AlreadyDone: true},
	CodeInsufficientFundsForFee: {Name: "InsufficientFundsForFee", Fatal: true},
	CodeAccountNotFound:         {Name: "AccountNotFound", Fatal: true},
	CodeBlockhashNotFound:       {Name: "BlockhashNotFound", Transient: true},
	CodeUnknown:                 {Name: "Unknown"},
}

// Info returns the classification for c. Unlisted program codes are treated
// as neither already-done nor fatal.
func (c LedgerCode) Info() LedgerCodeInfo {
	if info, ok := ledgerCodes[c]; ok {
		return info
	}
	return LedgerCodeInfo{Name: fmt.Sprintf("Custom(%d)", uint32(c))}
}

func (c LedgerCode) String() string {
	return c.Info().Name
}

// LedgerError is a decoded failure reported by the ledger for one submitted
// instruction.
type LedgerError struct {
	Code    LedgerCode
	Message string
	// Transport is set when the failure happened before the ledger produced a
	// verdict (network, RPC node unavailable).
	Transport bool
}

func (e *LedgerError) Error() string {
	if e.Transport {
		return "ledger transport: " + e.Message
	}
	if e.Message == "" {
		return fmt.Sprintf("ledger error %d (%s)", uint32(e.Code), e.Code)
	}
	return fmt.Sprintf("ledger error %d (%s): %s", uint32(e.Code), e.Code, e.Message)
}

// PipelineError is the structured failure carried in a pipeline result. It
// always names the step that failed and the last status observed on the
// ledger so an operator or the next scan can resume.
type PipelineError struct {
	Kind   ErrorKind
	Code   LedgerCode
	Step   Step
	Status BattleStatus
	Msg    string
	Err    error
}

func (e *PipelineError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Step != "" {
		b.WriteString(" at ")
		b.WriteString(string(e.Step))
	}
	b.WriteString(" (status ")
	b.WriteString(e.Status.String())
	b.WriteString(")")
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *PipelineError) Unwrap() error { return e.Err }

// Retryable reports whether a later invocation may succeed without operator
// intervention.
func (e *PipelineError) Retryable() bool {
	switch e.Kind {
	case KindTransient, KindTimeout, KindBusy, KindPrecondition:
		return true
	}
	return false
}

// Fatal reports whether the failure needs an operator.
func (e *PipelineError) Fatal() bool {
	return e.Kind == KindFatal
}

// NewPipelineError builds a PipelineError with a formatted message.
func NewPipelineError(kind ErrorKind, step Step, status BattleStatus, format string, args ...any) *PipelineError {
	return &PipelineError{
		Kind:   kind,
		Step:   step,
		Status: status,
		Msg:    fmt.Sprintf(format, args...),
	}
}

// AsPipelineError extracts a PipelineError from err, if any.
func AsPipelineError(err error) (*PipelineError, bool) {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
