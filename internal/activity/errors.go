package activity

import (
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"

	"github.com/quest-group/content-engine/internal/resilience"
)

// classify converts taxonomy errors into Temporal application errors so
// the server-side retry policy sees the right retryability: input, data,
// and business failures never retry; rate limits carry the vendor's
// retry-after hint as the next retry delay.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var ae *resilience.AppError
	if !errors.As(err, &ae) {
		return err
	}

	opts := temporal.ApplicationErrorOptions{Cause: ae.Err}
	switch ae.Kind {
	case resilience.KindInput, resilience.KindData, resilience.KindBusiness:
		opts.NonRetryable = true
	case resilience.KindTransient:
		if ae.RetryAfter > 0 {
			opts.NextRetryDelay = ae.RetryAfter
		}
	}
	return temporal.NewApplicationErrorWithOptions(ae.Error(), string(ae.Kind), opts)
}

// httpAppError maps a vendor HTTP status into the taxonomy.
func httpAppError(status int, retryAfter time.Duration, err error) error {
	switch {
	case status == 429:
		return resilience.RateLimited(err, retryAfter)
	case status >= 500 || status == 408:
		return resilience.NewAppError(resilience.KindTransient, resilience.CodeUpstream5xx, err)
	case status == 404 || status == 410:
		return resilience.NewAppError(resilience.KindData, resilience.CodeNotFound, err)
	default:
		return resilience.NewAppError(resilience.KindData, resilience.CodeFetchFail, err)
	}
}

// breakerOpen maps a circuit rejection into a transient taxonomy error so
// the retry policy backs off instead of hammering a degraded vendor.
func breakerOpen(err error) error {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return resilience.NewAppError(resilience.KindTransient, resilience.CodeCircuitOpen, err)
	}
	return err
}
