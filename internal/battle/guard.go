package battle

import (
	"github.com/alanyoungcy/battlekeeper/internal/domain"
)

// classifyTx maps a transaction outcome to a step result. Already-done ledger
// codes count as success and mark the step skipped; everything else becomes a
// typed PipelineError.
func classifyTx(step domain.Step, status domain.BattleStatus, out domain.TxOutcome) (domain.StepResult, *domain.PipelineError) {
	res := domain.StepResult{Step: step, TxID: out.TxID}

	if out.Success {
		res.Success = true
		return res, nil
	}

	le := out.Err
	if le == nil {
		le = &domain.LedgerError{Transport: true, Message: "no verdict"}
	}

	var kind domain.ErrorKind
	info := le.Code.Info()
	switch {
	case le.Transport:
		kind = domain.KindTransient
	case info.AlreadyDone:
		res.Success = true
		res.Skipped = true
		return res, nil
	case info.Fatal:
		kind = domain.KindFatal
	case info.Transient:
		kind = domain.KindTransient
	default:
		kind = domain.KindPrecondition
	}

	perr := &domain.PipelineError{
		Kind:   kind,
		Code:   le.Code,
		Step:   step,
		Status: status,
		Err:    le,
	}
	res.Kind = kind
	res.Error = perr.Error()
	return res, perr
}
