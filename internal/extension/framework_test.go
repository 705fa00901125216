package extension

import (
	"context"
	"testing"
)

func newTestFramework() *Framework {
	return &Framework{registry: make(map[string]ReconcileFunc)}
}

func TestFramework_RegisterAndLookup(t *testing.T) {
	f := newTestFramework()

	f.Register("custom-domain", func(ctx context.Context, req Request) ([]byte, Result) {
		return nil, DoneResult()
	})

	fn, ok := f.registry["custom-domain"]
	if !ok {
		t.Fatal("expected custom-domain to be registered")
	}
	if fn == nil {
		t.Error("expected a non-nil reconcile function")
	}
}

func TestFramework_RegisterOverwritesPreviousHandler(t *testing.T) {
	f := newTestFramework()

	f.Register("custom-domain", func(ctx context.Context, req Request) ([]byte, Result) {
		return nil, ErrorResult(errBoom)
	})
	f.Register("custom-domain", func(ctx context.Context, req Request) ([]byte, Result) {
		return nil, DoneResult()
	})

	_, result := f.registry["custom-domain"](context.Background(), Request{})
	if result.Kind != Done {
		t.Errorf("expected the second registration to win, got Kind = %v", result.Kind)
	}
}

func TestFramework_ObserveNilCounterIsNoop(t *testing.T) {
	f := newTestFramework()
	f.observe("custom-domain", DoneResult()) // must not panic with a nil reconcileTotal
}

var errBoom = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
