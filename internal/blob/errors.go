package blob

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/smithy-go"
	"github.com/openmined/s3sync/internal/sync/syncerr"
)

var (
	authCodes = map[string]bool{
		"InvalidAccessKeyId":    true,
		"SignatureDoesNotMatch": true,
		"ExpiredToken":          true,
		"InvalidToken":          true,
		"TokenRefreshRequired":  true,
		"InvalidClientTokenId":  true,
	}
	notFoundCodes = map[string]bool{
		"NoSuchKey":    true,
		"NotFound":     true,
		"NoSuchBucket": true,
		"NoSuchUpload": true,
	}
	transientCodes = map[string]bool{
		"SlowDown":                 true,
		"Throttling":               true,
		"ThrottlingException":      true,
		"RequestThrottled":         true,
		"RequestTimeout":           true,
		"RequestTimeoutException":  true,
		"InternalError":            true,
		"ServiceUnavailable":       true,
		"RequestLimitExceeded":     true,
		"BandwidthLimitExceeded":   true,
		"TooManyRequestsException": true,
	}
)

type httpStatusError interface {
	HTTPStatusCode() int
}

// classify maps SDK errors onto the sync error classes. Cancellation is
// returned unchanged.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch {
		case authCodes[code]:
			return syncerr.Auth(err)
		case notFoundCodes[code]:
			return syncerr.Permanent(op, fmt.Errorf("%w: %w", ErrNotFound, err))
		case transientCodes[code]:
			return syncerr.Transient(op, err)
		}
	}

	var statusErr httpStatusError
	if errors.As(err, &statusErr) {
		switch status := statusErr.HTTPStatusCode(); {
		case status == http.StatusNotFound:
			return syncerr.Permanent(op, fmt.Errorf("%w: %w", ErrNotFound, err))
		case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
			return syncerr.Transient(op, err)
		case status == http.StatusUnauthorized:
			return syncerr.Auth(err)
		case status >= 400:
			// 403 on a single key is a permission problem, not lost credentials
			return syncerr.Permanent(op, err)
		}
	}

	if syncerr.IsTransient(err) {
		return syncerr.Transient(op, err)
	}
	// connection level failures surface as generic errors from the transport
	var opErr *smithy.OperationError
	if errors.As(err, &opErr) && !errors.As(err, &apiErr) && !errors.As(err, &statusErr) {
		return syncerr.Transient(op, err)
	}
	return syncerr.Permanent(op, err)
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && notFoundCodes[apiErr.ErrorCode()] {
		return true
	}
	var statusErr httpStatusError
	return errors.As(err, &statusErr) && statusErr.HTTPStatusCode() == http.StatusNotFound
}

// IsNotFound reports whether err means the key or bucket does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrBucketNotFound)
}
