package observability

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewLogger_FiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "logfmt", "warn")
	if err != nil {
		t.Fatal(err)
	}
	level.Info(logger).Log("msg", "hidden")
	level.Warn(logger).Log("msg", "shown", "partition", "p1")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line should be filtered: %s", out)
	}
	if !strings.Contains(out, "msg=shown") || !strings.Contains(out, "partition=p1") {
		t.Errorf("expected warn line, got: %s", out)
	}
}

func TestNewLogger_JSONAndErrors(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "json", "")
	if err != nil {
		t.Fatal(err)
	}
	level.Info(logger).Log("msg", "hello")
	if !strings.Contains(buf.String(), `"msg":"hello"`) {
		t.Errorf("expected JSON output, got %s", buf.String())
	}

	if _, err := NewLogger(&buf, "xml", "info"); err == nil {
		t.Error("expected unknown format to fail")
	}
	if _, err := NewLogger(&buf, "logfmt", "loud"); err == nil {
		t.Error("expected unknown level to fail")
	}
	if OrNop(nil) == nil {
		t.Error("expected a no-op logger")
	}
}

func TestMetrics_Register(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.Contributions.WithLabelValues("p1").Add(3)
	m.SlotsPruned.Add(2)
	m.PassDuration.WithLabelValues("1").Observe(0.01)

	if got := testutil.ToFloat64(m.Contributions.WithLabelValues("p1")); got != 3 {
		t.Errorf("expected 3 contributions, got %v", got)
	}
	if got := testutil.ToFloat64(m.SlotsPruned); got != 2 {
		t.Errorf("expected 2 pruned, got %v", got)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	if len(families) != 5 {
		t.Errorf("expected 5 metric families, got %d", len(families))
	}

	// unregistered collectors still work
	NewMetrics(nil).BoundaryRounds.Inc()
}

func TestPruneStats_Concurrent(t *testing.T) {
	ps := NewPruneStats(time.Hour)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				ps.RecordAll(map[string]int{"[]": 2, `["a"]`: 1})
			}
		}()
	}
	wg.Wait()

	top := ps.Top(5)
	if len(top) != 2 {
		t.Fatalf("expected 2 paths, got %d", len(top))
	}
	if top[0].Path != "[]" || top[0].Pruned != 2000 || top[0].Rounds != 1000 {
		t.Errorf("unexpected top entry %+v", top[0])
	}
	if top[1].Pruned != 1000 {
		t.Errorf("unexpected second entry %+v", top[1])
	}
	if len(ps.Top(0)) != 0 {
		t.Error("expected empty result for n=0")
	}
}

func TestPruneStats_Prune(t *testing.T) {
	ps := NewPruneStats(time.Millisecond)
	ps.Record("[]", 1)
	time.Sleep(5 * time.Millisecond)
	ps.Prune()
	if len(ps.Top(10)) != 0 {
		t.Error("expected expired entries to be pruned")
	}
}
