// Package bot glues the messenger to the answering pipeline: command
// handling, mode dispatch, status updates, history persistence and
// attachment management.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aspect-cloud/asearch/internal/keypool"
	"github.com/aspect-cloud/asearch/internal/provider/gemini"
)

// ContentGenerator is the subset of the completion client the rotation
// loop needs.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, apiKey string, req gemini.Request) (*gemini.Result, error)
}

// RotatingCompleter performs one logical completion by rotating through
// the credential pool: each attempt borrows one key, and attempts that
// fail on a credential problem (rate limit, revoked key) move on to the
// next key. Non-credential errors are returned as-is. The loop is
// bounded by the pool size so a fully degraded pool terminates instead
// of spinning.
type RotatingCompleter struct {
	pool   *keypool.Pool
	client ContentGenerator
	logger *slog.Logger
}

// NewRotatingCompleter wires a pool and a completion client together.
func NewRotatingCompleter(pool *keypool.Pool, client ContentGenerator, logger *slog.Logger) *RotatingCompleter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RotatingCompleter{pool: pool, client: client, logger: logger}
}

// Complete implements committee.Completer.
func (r *RotatingCompleter) Complete(ctx context.Context, req gemini.Request) (*gemini.Result, error) {
	var res *gemini.Result
	var lastErr error

	attempts := r.pool.Size()
	for attempt := 0; attempt < attempts; attempt++ {
		err := r.pool.WithCredential(ctx, func(ctx context.Context, apiKey string) error {
			out, err := r.client.GenerateContent(ctx, apiKey, req)
			if err != nil {
				return err
			}
			res = out
			return nil
		})
		if err == nil {
			return res, nil
		}
		if errors.Is(err, keypool.ErrNoCredentials) {
			return nil, err
		}
		if !isCredentialError(err) {
			return nil, err
		}
		lastErr = err
		r.logger.Warn("completion attempt failed, rotating credential",
			"attempt", attempt+1, "model", req.Model, "error", err)
	}

	return nil, fmt.Errorf("credential rotation exhausted after %d attempts (last: %v): %w",
		attempts, lastErr, keypool.ErrNoCredentials)
}

// isCredentialError reports whether retrying with a different key could
// help: the error was a rate limit or a key-level rejection.
func isCredentialError(err error) bool {
	if keypool.IsRateLimited(err) {
		return true
	}
	var cf keypool.CredentialFatal
	return errors.As(err, &cf) && cf.CredentialFatal()
}
