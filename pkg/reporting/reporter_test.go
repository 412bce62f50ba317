package reporting

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func noDelay(int) time.Duration { return 0 }

func TestRetryDelay(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 500 * time.Millisecond},
		{2, time.Second},
		{3, 2 * time.Second},
		{4, 4 * time.Second},
		{5, 5 * time.Second},
		{10, 5 * time.Second},
		{0, 500 * time.Millisecond},
	}
	for _, tc := range cases {
		if got := retryDelay(tc.attempt); got != tc.want {
			t.Errorf("retryDelay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestReporterDelivers(t *testing.T) {
	var got Snapshot
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		atomic.AddInt32(&calls, 1)
		if err := json.NewDecoder(req.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
	}))
	defer srv.Close()

	r := New(srv.URL, WithClient(srv.Client()))
	r.delay = noDelay

	r.Report(Snapshot{
		SessionID:       "sess-1",
		Provider:        "openai",
		Messages:        4,
		ToolCalls:       1,
		EstimatedTokens: 320,
		Final:           true,
	})
	r.Close()

	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("endpoint called %d times, want 1", calls)
	}
	if got.SessionID != "sess-1" || got.Provider != "openai" || !got.Final {
		t.Fatalf("endpoint saw %+v", got)
	}
	if got.EstimatedTokens != 320 {
		t.Fatalf("tokens = %d, want 320", got.EstimatedTokens)
	}
}

func TestReporterRetriesTransientFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
	}))
	defer srv.Close()

	dropped := false
	r := New(srv.URL,
		WithClient(srv.Client()),
		WithDroppedCallback(func(Snapshot, error) { dropped = true }),
	)
	r.delay = noDelay

	r.Report(Snapshot{SessionID: "sess-retry"})
	r.Close()

	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Fatalf("endpoint called %d times, want 3 (2 failures + success)", n)
	}
	if dropped {
		t.Fatal("snapshot reported dropped despite eventual success")
	}
}

func TestReporterDropsAfterRetryCap(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	var mu sync.Mutex
	var droppedSession string
	var droppedErr error
	r := New(srv.URL,
		WithClient(srv.Client()),
		WithMaxAttempts(2),
		WithDroppedCallback(func(s Snapshot, err error) {
			mu.Lock()
			droppedSession = s.SessionID
			droppedErr = err
			mu.Unlock()
		}),
	)
	r.delay = noDelay

	r.Report(Snapshot{SessionID: "sess-lost"})
	r.Close()

	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("endpoint called %d times, want maxAttempts=2", n)
	}
	mu.Lock()
	defer mu.Unlock()
	if droppedSession != "sess-lost" {
		t.Fatalf("dropped callback saw session %q", droppedSession)
	}
	if droppedErr == nil {
		t.Fatal("dropped callback got nil error")
	}
}

func TestReporterQueueFullDrops(t *testing.T) {
	// A worker blocked on a slow endpoint plus a full queue must shed load
	// without blocking Report.
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		<-release
	}))
	defer srv.Close()

	var droppedCount int32
	r := New(srv.URL,
		WithClient(srv.Client()),
		WithMaxAttempts(1),
		WithDroppedCallback(func(Snapshot, error) { atomic.AddInt32(&droppedCount, 1) }),
	)
	r.delay = noDelay

	// One in flight with the worker, defaultQueueSize buffered, the rest dropped.
	total := defaultQueueSize + 5
	done := make(chan struct{})
	go func() {
		for i := 0; i < total; i++ {
			r.Report(Snapshot{SessionID: "flood"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Report blocked on a full queue")
	}

	close(release)
	r.Close()

	if atomic.LoadInt32(&droppedCount) == 0 {
		t.Fatal("no snapshots dropped despite queue overflow")
	}
}

func TestReporterReportAfterClose(t *testing.T) {
	// A usage loop can race shutdown and report into a closed reporter. The
	// snapshot is dropped, never a panic.
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	var mu sync.Mutex
	var droppedErr error
	r := New(srv.URL,
		WithClient(srv.Client()),
		WithDroppedCallback(func(s Snapshot, err error) {
			mu.Lock()
			droppedErr = err
			mu.Unlock()
		}),
	)
	r.delay = noDelay

	r.Close()
	r.Report(Snapshot{SessionID: "sess-late"})

	if n := atomic.LoadInt32(&calls); n != 0 {
		t.Fatalf("endpoint called %d times after Close, want 0", n)
	}
	mu.Lock()
	defer mu.Unlock()
	if droppedErr == nil {
		t.Fatal("late snapshot not surfaced to dropped callback")
	}
}

func TestReporterCloseIdempotent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {}))
	defer srv.Close()

	r := New(srv.URL, WithClient(srv.Client()))
	r.Close()
	r.Close()
}
