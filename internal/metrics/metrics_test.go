package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		out[f.GetName()] = f
	}
	return out
}

func counterValue(f *dto.MetricFamily, labels map[string]string) float64 {
	for _, m := range f.GetMetric() {
		match := true
		for _, lp := range m.GetLabel() {
			if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
				match = false
			}
		}
		if match {
			return m.GetCounter().GetValue()
		}
	}
	return -1
}

func TestPrometheus_RecordsOperations(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := NewPrometheus(reg)
	if err != nil {
		t.Fatalf("NewPrometheus: %v", err)
	}

	p.RecordUpsert(true, time.Millisecond, nil)
	p.RecordUpsert(true, time.Millisecond, nil)
	p.RecordUpsert(false, time.Millisecond, errors.New("boom"))
	p.RecordDelete(time.Millisecond, nil)
	p.RecordSearch("semantic", 5, time.Millisecond, nil)
	p.RecordRebuild(3, time.Millisecond, nil)
	p.SetRows(7)

	fams := gather(t, reg)
	ops := fams["kura_operations_total"]
	if ops == nil {
		t.Fatal("kura_operations_total not registered")
	}
	if got := counterValue(ops, map[string]string{"op": "create", "status": "ok"}); got != 2 {
		t.Errorf("create/ok = %v, want 2", got)
	}
	if got := counterValue(ops, map[string]string{"op": "update", "status": "error"}); got != 1 {
		t.Errorf("update/error = %v, want 1", got)
	}
	if got := counterValue(ops, map[string]string{"op": "search_semantic", "status": "ok"}); got != 1 {
		t.Errorf("search_semantic/ok = %v, want 1", got)
	}
	if got := fams["kura_rebuilt_rows_total"].GetMetric()[0].GetCounter().GetValue(); got != 3 {
		t.Errorf("rebuilt rows = %v, want 3", got)
	}
	if got := fams["kura_rows"].GetMetric()[0].GetGauge().GetValue(); got != 7 {
		t.Errorf("rows = %v, want 7", got)
	}
	if fams["kura_operation_duration_seconds"] == nil {
		t.Error("latency histogram not registered")
	}
}

func TestNewPrometheus_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewPrometheus(reg); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if _, err := NewPrometheus(reg); err == nil {
		t.Error("expected error registering twice on one registry")
	}
}

func TestNoop(t *testing.T) {
	var c Collector = Noop{}
	c.RecordUpsert(true, 0, nil)
	c.RecordDelete(0, nil)
	c.RecordSearch("keyword", 1, 0, nil)
	c.RecordRebuild(0, 0, nil)
	c.SetRows(0)
}
