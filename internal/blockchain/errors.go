package blockchain

import (
	"strings"
	"time"

	"walltrack/internal/errs"
)

// TxError is a short, loggable classification of a raw RPC/program error.
type TxError struct {
	Code    int
	Raw     string
	Message string
}

func (e *TxError) Error() string {
	return e.Message
}

// ParseTxError classifies a raw RPC error into a TxError carrying a short
// human message. It never changes the underlying error's meaning, only adds
// a label for logs.
func ParseTxError(err error) *TxError {
	if err == nil {
		return nil
	}

	raw := err.Error()
	txErr := &TxError{Raw: raw}

	if rpcErr, ok := err.(*RPCError); ok {
		txErr.Code = rpcErr.Code
	}

	switch {
	case contains(raw, "no record of a prior credit"), contains(raw, "insufficient funds"), contains(raw, "insufficient lamports"):
		txErr.Message = "insufficient balance for trade and fees"
	case contains(raw, "slippage"), contains(raw, "exceededslippage"):
		txErr.Message = "slippage tolerance exceeded"
	case contains(raw, "blockhash not found"), contains(raw, "block height exceeded"):
		txErr.Message = "blockhash expired before confirmation"
	case contains(raw, "429"), contains(raw, "rate limit"), contains(raw, "too many requests"):
		txErr.Message = "rpc rate limited"
	case contains(raw, "account not found"), contains(raw, "accountnotfound"):
		txErr.Message = "required account missing"
	case contains(raw, "compute budget exceeded"):
		txErr.Message = "compute budget exceeded"
	case contains(raw, "custom program error"), contains(raw, "0x1"):
		txErr.Message = "program rejected swap, likely low liquidity"
	case contains(raw, "connection refused"), contains(raw, "timeout"), contains(raw, "eof"):
		txErr.Message = "rpc connectivity failure"
	case contains(raw, "simulation failed"):
		txErr.Message = "transaction simulation failed"
	default:
		txErr.Message = "transaction failed"
	}

	return txErr
}

// ClassifyKind maps a raw venue/RPC error to an errs.Kind so callers can wrap
// it with errs.New and let the Execution Queue branch on it without string
// matching at the call site. Ambiguous defaults bias toward KindTransient
// since an unrecognized failure is more often a flaky RPC node than a
// permanently doomed order.
func ClassifyKind(err error) errs.Kind {
	if err == nil {
		return errs.KindUnknown
	}
	raw := strings.ToLower(err.Error())

	switch {
	case contains(raw, "429"), contains(raw, "rate limit"), contains(raw, "too many requests"):
		return errs.KindRateLimited
	case contains(raw, "no record of a prior credit"), contains(raw, "insufficient funds"), contains(raw, "insufficient lamports"):
		return errs.KindPermanent
	case contains(raw, "slippage"), contains(raw, "exceededslippage"):
		return errs.KindPermanent
	case contains(raw, "account not found"), contains(raw, "accountnotfound"):
		return errs.KindPermanent
	case contains(raw, "custom program error"), contains(raw, "0x1"):
		return errs.KindPermanent
	case contains(raw, "blockhash not found"), contains(raw, "block height exceeded"):
		return errs.KindTransient
	case contains(raw, "connection refused"), contains(raw, "timeout"), contains(raw, "eof"):
		return errs.KindTransient
	case contains(raw, "compute budget exceeded"):
		return errs.KindTransient
	case contains(raw, "simulation failed"):
		return errs.KindPermanent
	default:
		return errs.KindTransient
	}
}

// Classifier implements venue.ErrClassifier over ClassifyKind's table, for
// venue adapters that want transient/rate-limited/retry-after rather than a
// full errs.Kind.
type Classifier struct{}

// ClassifyError reports whether err is transient or rate-limited, and a
// suggested retry delay for the rate-limited case.
func (Classifier) ClassifyError(err error) (transient bool, rateLimited bool, retryAfter time.Duration) {
	switch ClassifyKind(err) {
	case errs.KindRateLimited:
		return false, true, 2 * time.Second
	case errs.KindTransient:
		return true, false, 0
	default:
		return false, false, 0
	}
}

func contains(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
