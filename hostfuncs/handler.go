package hostfuncs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// HostFunc is a typed host function. A non-nil error aborts the calling
// guest with a host fault trap.
type HostFunc[Req any, Resp any] func(context.Context, Req) (Resp, error)

// ByteHandler accepts a JSON request and returns a JSON response. It is
// the form engine adapters call.
type ByteHandler func(context.Context, []byte) ([]byte, error)

var validate = validator.New(validator.WithRequiredStructEnabled())

// NewJSONHandler wraps a typed HostFunc into a ByteHandler. Requests
// that fail to decode or fail their `validate` struct tags are answered
// with a VALIDATION_ERROR response instead of reaching fn.
//
// Usage:
//
//	echo := hostfuncs.NewJSONHandler(func(ctx context.Context, req EchoRequest) (EchoResponse, error) {
//	    return EchoResponse{Message: req.Message}, nil
//	})
func NewJSONHandler[Req any, Resp any](fn HostFunc[Req, Resp]) ByteHandler {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		var req Req
		if err := json.Unmarshal(payload, &req); err != nil {
			return NewValidationError("failed to unmarshal request: " + err.Error()).ToJSON(), nil
		}
		if err := validateRequest(req); err != nil {
			return NewValidationError(err.Error()).ToJSON(), nil
		}

		resp, err := fn(ctx, req)
		if err != nil {
			return nil, err
		}

		respBytes, err := json.Marshal(resp)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal response: %w", err)
		}
		return respBytes, nil
	}
}

// validateRequest checks struct tags. Non-struct requests have nothing
// to validate.
func validateRequest(req any) error {
	err := validate.Struct(req)
	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return nil
	}
	return err
}
