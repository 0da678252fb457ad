package gcperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Classify wraps a failure from an underlying Google client into *Error.
// The kind is derived from structured transport information where
// available: the HTTP status of a *googleapi.Error first, then the gRPC
// status code, and only as a last resort a case-insensitive "404" /
// "not found" match on the error text. An error that is already *Error
// passes through unchanged so composite operations keep the original
// classification.
func Classify(service, action string, err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{
		Service: service,
		Kind:    kindFor(err),
		Message: fmt.Sprintf("failed to %s", action),
		Err:     err,
	}
}

func kindFor(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return kindForHTTPStatus(apiErr.Code)
	}

	if st, ok := status.FromError(err); ok {
		return kindForGRPCCode(st.Code())
	}

	text := strings.ToLower(err.Error())
	if strings.Contains(text, "404") || strings.Contains(text, "not found") {
		return KindNotFound
	}
	return KindService
}

func kindForHTTPStatus(code int) Kind {
	switch code {
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusConflict:
		return KindAlreadyExists
	case http.StatusForbidden:
		return KindPermissionDenied
	case http.StatusUnauthorized:
		return KindUnauthenticated
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return KindTimeout
	default:
		return KindService
	}
}

func kindForGRPCCode(code codes.Code) Kind {
	switch code {
	case codes.NotFound:
		return KindNotFound
	case codes.AlreadyExists:
		return KindAlreadyExists
	case codes.PermissionDenied:
		return KindPermissionDenied
	case codes.Unauthenticated:
		return KindUnauthenticated
	case codes.DeadlineExceeded:
		return KindTimeout
	default:
		return KindService
	}
}
