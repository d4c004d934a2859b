package screenshot

import (
	"context"
	"errors"
)

// Failure causes. They stay internal to the pipeline and only surface as the
// Reason text of a failure Result.
var (
	ErrUnreachable           = errors.New("domain did not resolve")
	ErrProviderTimeout       = errors.New("provider timed out")
	ErrProviderFailed        = errors.New("provider returned no image")
	ErrProviderThrottled     = errors.New("provider request budget exhausted")
	ErrAllProvidersExhausted = errors.New("all screenshot providers failed")
	ErrFaviconUnavailable    = errors.New("favicon unavailable")
	ErrCaptureCancelled      = errors.New("capture cancelled")
	ErrInvalidDomain         = errors.New("invalid domain")
)

// classifyAttempt maps a probe error to the provider taxonomy.
func classifyAttempt(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrProviderTimeout
	}
	return ErrProviderFailed
}
