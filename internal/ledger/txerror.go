package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"

	"github.com/alanyoungcy/battlekeeper/internal/domain"
)

// DecodeTxError turns a transaction error as reported by the RPC node (either
// in a failed preflight or in a signature status) into a typed LedgerError.
// Classification is left to the caller.
func DecodeTxError(raw any) *domain.LedgerError {
	b, err := json.Marshal(raw)
	if err != nil {
		return &domain.LedgerError{Code: domain.CodeUnknown, Message: fmt.Sprint(raw)}
	}
	return decodeTxErrorJSON(b)
}

func decodeTxErrorJSON(b []byte) *domain.LedgerError {
	var name string
	if err := json.Unmarshal(b, &name); err == nil {
		return runtimeError(name)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(b, &obj); err != nil || len(obj) == 0 {
		return &domain.LedgerError{Code: domain.CodeUnknown, Message: string(b)}
	}

	if ie, ok := obj["InstructionError"]; ok {
		var parts []json.RawMessage
		if err := json.Unmarshal(ie, &parts); err == nil && len(parts) == 2 {
			var custom struct {
				Custom *uint32 `json:"Custom"`
			}
			if err := json.Unmarshal(parts[1], &custom); err == nil && custom.Custom != nil {
				return &domain.LedgerError{Code: domain.LedgerCode(*custom.Custom)}
			}
			var builtin string
			if err := json.Unmarshal(parts[1], &builtin); err == nil {
				return &domain.LedgerError{Code: domain.CodeUnknown, Message: "instruction error: " + builtin}
			}
		}
		return &domain.LedgerError{Code: domain.CodeUnknown, Message: string(b)}
	}

	// Struct-like variants such as {"InsufficientFundsForRent":{"account_index":0}}.
	for k := range obj {
		return runtimeError(k)
	}
	return &domain.LedgerError{Code: domain.CodeUnknown, Message: string(b)}
}

func runtimeError(name string) *domain.LedgerError {
	switch name {
	case "InsufficientFundsForFee", "InsufficientFundsForRent":
		return &domain.LedgerError{Code: domain.CodeInsufficientFundsForFee, Message: name}
	case "AccountNotFound":
		return &domain.LedgerError{Code: domain.CodeAccountNotFound, Message: name}
	case "BlockhashNotFound":
		return &domain.LedgerError{Code: domain.CodeBlockhashNotFound, Message: name}
	}
	return &domain.LedgerError{Code: domain.CodeUnknown, Message: name}
}

// decodeRPCError extracts the transaction error carried by a failed send. An
// RPC failure with no transaction verdict is reported as a transport error.
func decodeRPCError(err error) *domain.LedgerError {
	var rpcErr *jsonrpc.RPCError
	if !errors.As(err, &rpcErr) {
		return &domain.LedgerError{Transport: true, Message: err.Error()}
	}
	data, ok := rpcErr.Data.(map[string]any)
	if !ok {
		return &domain.LedgerError{Transport: true, Message: rpcErr.Message}
	}
	txErr, ok := data["err"]
	if !ok || txErr == nil {
		return &domain.LedgerError{Transport: true, Message: rpcErr.Message}
	}
	le := DecodeTxError(txErr)
	if line := programErrorLog(data["logs"]); line != "" && le.Message == "" {
		le.Message = line
	}
	return le
}

// programErrorLog returns the first program log line describing an error.
func programErrorLog(v any) string {
	logs, ok := v.([]any)
	if !ok {
		return ""
	}
	for _, l := range logs {
		s, ok := l.(string)
		if ok && strings.Contains(s, "Error Message:") {
			return s
		}
	}
	return ""
}
