package server

import (
	"VaultLedger/internal/core"
	"VaultLedger/internal/errs"
	"VaultLedger/internal/ingestion"
	"VaultLedger/internal/query"
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrUnavailable is returned by admin operations the process was started
// without.
var ErrUnavailable = errors.New("operation not available")

// CodeOf maps an error to its gRPC code.
func CodeOf(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	if st, ok := status.FromError(err); ok {
		return st.Code()
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled

	case errors.Is(err, errs.ErrNotAuthorized):
		return codes.PermissionDenied
	case errors.Is(err, errs.ErrNotInitialized):
		return codes.NotFound
	case errors.Is(err, errs.ErrAlreadyInitialized):
		return codes.AlreadyExists
	case errors.Is(err, errs.ErrInvalidAmount),
		errors.Is(err, errs.ErrInvalidPrice),
		errors.Is(err, errs.ErrBelowMinimum),
		errors.Is(err, errs.ErrAboveMaximum):
		return codes.InvalidArgument
	case errs.KindOf(err) != nil:
		// insufficient balance or collateral, pool state
		return codes.FailedPrecondition

	case errors.Is(err, query.ErrInvalidArgument),
		errors.Is(err, ingestion.ErrUnknownCommand),
		errors.Is(err, ingestion.ErrInvalidPayload),
		errors.Is(err, core.ErrMalformedCommand):
		return codes.InvalidArgument
	case errors.Is(err, core.ErrNonceGap), errors.Is(err, core.ErrNonceOutOfOrder):
		return codes.Aborted
	case errors.Is(err, query.ErrHistoryUnavailable), errors.Is(err, ErrUnavailable):
		return codes.Unavailable
	}
	return codes.Internal
}

// toStatus converts err into a gRPC status error. Ledger rejections keep
// their kind name in the message.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(CodeOf(err), err.Error())
}

// ErrorBody is the JSON error returned by the HTTP gateway. Code is the
// ledger error code (100-110), 0 for errors outside the ledger taxonomy.
type ErrorBody struct {
	Code    uint32 `json:"code"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func NewErrorBody(err error) ErrorBody {
	body := ErrorBody{Code: errs.Code(err), Message: err.Error()}
	if body.Code != 0 {
		body.Kind = errs.Name(err)
	} else {
		body.Kind = CodeOf(err).String()
	}
	return body
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(runtime.HTTPStatusFromCode(CodeOf(err)))
	json.NewEncoder(w).Encode(NewErrorBody(err))
}
