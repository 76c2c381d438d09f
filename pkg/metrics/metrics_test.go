package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

type fakeQueue struct{ ready, delayed, waiting int }

func (f fakeQueue) Depths() (int, int, int) { return f.ready, f.delayed, f.waiting }

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(body)
}

func TestHandlerExportsCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.FunctionCalled("add")
	m.FunctionCalled("add")
	m.SoftError()
	m.LimitAbort("invocation")
	m.LockCache("hit")
	m.CommandRun()
	m.EntryExecuted()
	m.WatchQueue(fakeQueue{ready: 3, delayed: 1, waiting: 2})

	out := scrape(t, m)
	for _, want := range []string{
		`mushcode_function_invocations_total{function="add"} 2`,
		`mushcode_soft_errors_total 1`,
		`mushcode_limit_aborts_total{limit="invocation"} 1`,
		`mushcode_lock_cache_total{result="hit"} 1`,
		`mushcode_commands_processed_total 1`,
		`mushcode_queue_executed_total 1`,
		`mushcode_queue_depth{queue_type="ready"} 3`,
		`mushcode_queue_depth{queue_type="semaphore"} 2`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.FunctionCalled("add")
	m.SoftError()
	m.LimitAbort("depth")
	m.LockCache("miss")
	m.EntryDropped()
	m.ExecutorPanic()
	m.WatchQueue(fakeQueue{})
	m.Update()
}
