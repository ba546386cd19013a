package bot

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/aspect-cloud/asearch/internal/keypool"
	"github.com/aspect-cloud/asearch/internal/provider/gemini"
)

// fakeGenerator scripts per-key responses and records which keys were
// tried, in order.
type fakeGenerator struct {
	keys []string
	fn   func(apiKey string) (*gemini.Result, error)
}

func (f *fakeGenerator) GenerateContent(_ context.Context, apiKey string, _ gemini.Request) (*gemini.Result, error) {
	f.keys = append(f.keys, apiKey)
	return f.fn(apiKey)
}

func newTestPool(t *testing.T, keys ...string) *keypool.Pool {
	t.Helper()
	p, err := keypool.New(keys, keypool.WithLogger(slog.New(slog.DiscardHandler)))
	if err != nil {
		t.Fatalf("keypool.New: %v", err)
	}
	return p
}

func TestComplete_FirstKeySucceeds(t *testing.T) {
	pool := newTestPool(t, "key-a", "key-b")
	gen := &fakeGenerator{fn: func(string) (*gemini.Result, error) {
		return &gemini.Result{Text: "answer", FinishReason: gemini.FinishStop}, nil
	}}
	rc := NewRotatingCompleter(pool, gen, nil)

	res, err := rc.Complete(context.Background(), gemini.Request{Model: "m"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if res.Text != "answer" {
		t.Errorf("text = %q, want answer", res.Text)
	}
	if len(gen.keys) != 1 || gen.keys[0] != "key-a" {
		t.Errorf("keys tried = %v, want [key-a]", gen.keys)
	}
}

func TestComplete_RateLimitRotatesToNextKey(t *testing.T) {
	pool := newTestPool(t, "key-a", "key-b")
	gen := &fakeGenerator{fn: func(apiKey string) (*gemini.Result, error) {
		if apiKey == "key-a" {
			return nil, &gemini.ClassifiedError{Type: gemini.ErrRateLimit, StatusCode: 429, Message: "quota"}
		}
		return &gemini.Result{Text: "from b", FinishReason: gemini.FinishStop}, nil
	}}
	rc := NewRotatingCompleter(pool, gen, nil)

	res, err := rc.Complete(context.Background(), gemini.Request{Model: "m"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if res.Text != "from b" {
		t.Errorf("text = %q, want from b", res.Text)
	}
	if len(gen.keys) != 2 || gen.keys[0] != "key-a" || gen.keys[1] != "key-b" {
		t.Errorf("keys tried = %v, want [key-a key-b]", gen.keys)
	}
}

func TestComplete_AuthErrorQuarantinesKey(t *testing.T) {
	pool := newTestPool(t, "key-a", "key-b")
	gen := &fakeGenerator{fn: func(apiKey string) (*gemini.Result, error) {
		if apiKey == "key-a" {
			return nil, &gemini.ClassifiedError{Type: gemini.ErrAuth, StatusCode: 403, Message: "revoked"}
		}
		return &gemini.Result{Text: "ok", FinishReason: gemini.FinishStop}, nil
	}}
	rc := NewRotatingCompleter(pool, gen, nil)

	if _, err := rc.Complete(context.Background(), gemini.Request{Model: "m"}); err != nil {
		t.Fatalf("first Complete: %v", err)
	}

	// key-a is quarantined; the next call must not touch it.
	gen.keys = nil
	if _, err := rc.Complete(context.Background(), gemini.Request{Model: "m"}); err != nil {
		t.Fatalf("second Complete: %v", err)
	}
	for _, k := range gen.keys {
		if k == "key-a" {
			t.Errorf("quarantined key-a was tried again: %v", gen.keys)
		}
	}
}

func TestComplete_AllKeysRateLimited(t *testing.T) {
	pool := newTestPool(t, "key-a", "key-b")
	gen := &fakeGenerator{fn: func(string) (*gemini.Result, error) {
		return nil, &gemini.ClassifiedError{Type: gemini.ErrRateLimit, StatusCode: 429, Message: "quota"}
	}}
	rc := NewRotatingCompleter(pool, gen, nil)

	_, err := rc.Complete(context.Background(), gemini.Request{Model: "m"})
	if !errors.Is(err, keypool.ErrNoCredentials) {
		t.Fatalf("err = %v, want ErrNoCredentials", err)
	}
	if len(gen.keys) != 2 {
		t.Errorf("tried %d keys, want 2 (bounded by pool size)", len(gen.keys))
	}
}

func TestComplete_NonCredentialErrorReturnsImmediately(t *testing.T) {
	pool := newTestPool(t, "key-a", "key-b")
	wantErr := &gemini.ClassifiedError{Type: gemini.ErrOverloaded, StatusCode: 503, Message: "busy"}
	gen := &fakeGenerator{fn: func(string) (*gemini.Result, error) {
		return nil, wantErr
	}}
	rc := NewRotatingCompleter(pool, gen, nil)

	_, err := rc.Complete(context.Background(), gemini.Request{Model: "m"})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want the overload error", err)
	}
	if errors.Is(err, keypool.ErrNoCredentials) {
		t.Error("overload error must not read as credential exhaustion")
	}
	if len(gen.keys) != 1 {
		t.Errorf("tried %d keys, want 1 (no rotation on server errors)", len(gen.keys))
	}
}

func TestComplete_ExhaustedPoolSkipsRemoteCall(t *testing.T) {
	pool := newTestPool(t, "key-a")
	pool.ReportRateLimited("key-a")
	gen := &fakeGenerator{fn: func(string) (*gemini.Result, error) {
		t.Fatal("generator must not be called with an exhausted pool")
		return nil, nil
	}}
	rc := NewRotatingCompleter(pool, gen, nil)

	_, err := rc.Complete(context.Background(), gemini.Request{Model: "m"})
	if !errors.Is(err, keypool.ErrNoCredentials) {
		t.Fatalf("err = %v, want ErrNoCredentials", err)
	}
}
