package ready

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/net/nettest"
)

var errTestDeadline = errors.New("test deadline")

func TestTCPProbe(t *testing.T) {
	ln, err := nettest.NewLocalListener("tcp")
	if err != nil {
		t.Fatalf("NewLocalListener: %v", err)
	}
	addr := ln.Addr().String()

	ctx := context.Background()
	if err := TCP(addr).Check(ctx); err != nil {
		t.Fatalf("expected listening port to be ready: %v", err)
	}

	ln.Close()
	if err := TCP(addr).Check(ctx); err == nil {
		t.Fatal("expected closed port to be not ready")
	}
}

func TestHTTPProbe_ServerErrorIsNotReady(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	probe := HTTP(srv.URL)
	if err := probe.Check(context.Background()); err == nil {
		t.Fatal("expected 503 to be not ready")
	}

	// Any non-5xx answer means the server is up.
	healthy.Store(true)
	if err := probe.Check(context.Background()); err != nil {
		t.Fatalf("expected 404 to count as ready: %v", err)
	}
}

func TestPoll_TimeoutCarriesCause(t *testing.T) {
	ln, err := nettest.NewLocalListener("tcp")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithTimeoutCause(context.Background(), 150*time.Millisecond, errTestDeadline)
	defer cancel()

	err = Poll(ctx, TCP(addr), 20*time.Millisecond, nil)
	if !errors.Is(err, errTestDeadline) {
		t.Fatalf("expected error wrapping cause, got %v", err)
	}
	var nre *NotReadyError
	if !errors.As(err, &nre) || nre.Last == nil {
		t.Fatalf("expected NotReadyError with last probe error, got %#v", err)
	}
}

func TestPoll_Stop(t *testing.T) {
	stop := make(chan struct{})
	close(stop)

	// The probe would succeed, but a closed stop channel takes precedence.
	err := Poll(context.Background(), probeFunc(func(context.Context) error { return nil }), 0, stop)
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestPoll_ReadyAfterRetries(t *testing.T) {
	var calls atomic.Int32
	probe := probeFunc(func(context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("not yet")
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := Poll(ctx, probe, 10*time.Millisecond, nil); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 checks, got %d", got)
	}
}

func TestFileProbe_WakesOnCreate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ready")

	probe := File(path)
	defer probe.Close()

	if err := probe.Check(context.Background()); err == nil {
		t.Fatal("expected missing file to be not ready")
	}
	probe.Wake()

	go func() {
		time.Sleep(50 * time.Millisecond)
		os.WriteFile(path, []byte("ok"), 0o644)
	}()

	// The interval is far longer than the test deadline, so success
	// depends on the fsnotify wake-up.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	if err := Poll(ctx, probe, time.Hour, nil); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Fatalf("readiness noticed too late: %v", elapsed)
	}
}

type probeFunc func(context.Context) error

func (f probeFunc) Check(ctx context.Context) error { return f(ctx) }
