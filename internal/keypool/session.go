package keypool

import (
	"context"
	"errors"
)

// CredentialFatal is implemented by errors that invalidate the key that
// produced them for the rest of the process lifetime, such as a revoked or
// unauthorized key. The Gemini client's classified errors implement it.
type CredentialFatal interface {
	CredentialFatal() bool
}

// RateLimited is implemented by errors that indicate the key hit its quota
// and should be cooled down rather than quarantined.
type RateLimited interface {
	RateLimited() bool
}

// WithCredential acquires a key, runs fn with it, and reports exactly one
// disposition based on fn's outcome:
//
//   - nil error: ReportSuccess
//   - error implementing CredentialFatal: ReportPermanentFailure
//   - anything else (rate limits, timeouts, unknown failures, context
//     cancellation): ReportRateLimited — unknown failures are treated as
//     transient so a healthy key is never quarantined by accident
//
// The original error is always returned to the caller unchanged.
// Returns ErrNoCredentials without calling fn when no key is available.
func (p *Pool) WithCredential(ctx context.Context, fn func(ctx context.Context, apiKey string) error) error {
	secret, err := p.Acquire()
	if err != nil {
		return err
	}

	err = fn(ctx, secret)
	switch {
	case err == nil:
		p.ReportSuccess(secret)
	case isCredentialFatal(err):
		p.ReportPermanentFailure(secret)
	default:
		p.ReportRateLimited(secret)
	}
	return err
}

func isCredentialFatal(err error) bool {
	var cf CredentialFatal
	return errors.As(err, &cf) && cf.CredentialFatal()
}

// IsRateLimited reports whether err represents a quota rejection.
func IsRateLimited(err error) bool {
	var rl RateLimited
	return errors.As(err, &rl) && rl.RateLimited()
}
