package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
)

func TestObserveScoringPass_IncrementsCounter(t *testing.T) {
	ScoringPassesTotal.Reset()

	ObserveScoringPass("local", 85.0)
	ObserveScoringPass("local", 42.0)
	ObserveScoringPass("remote", 91.0)

	m := &dto.Metric{}
	counter, err := ScoringPassesTotal.GetMetricWithLabelValues("local")
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues failed: %v", err)
	}
	_ = counter.Write(m)
	if m.Counter.GetValue() != 2.0 {
		t.Errorf("expected local counter 2, got %f", m.Counter.GetValue())
	}

	counter, err = ScoringPassesTotal.GetMetricWithLabelValues("remote")
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues failed: %v", err)
	}
	m = &dto.Metric{}
	_ = counter.Write(m)
	if m.Counter.GetValue() != 1.0 {
		t.Errorf("expected remote counter 1, got %f", m.Counter.GetValue())
	}
}

func TestAnomaliesTotal_Labels(t *testing.T) {
	AnomaliesTotal.Reset()

	AnomaliesTotal.WithLabelValues("tap_pressure", "high").Inc()
	AnomaliesTotal.WithLabelValues("tap_pressure", "high").Inc()

	m := &dto.Metric{}
	counter, err := AnomaliesTotal.GetMetricWithLabelValues("tap_pressure", "high")
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues failed: %v", err)
	}
	_ = counter.Write(m)
	if m.Counter.GetValue() != 2.0 {
		t.Errorf("expected 2, got %f", m.Counter.GetValue())
	}
}

func TestStatusBucket(t *testing.T) {
	cases := map[int]string{
		102: "1xx",
		200: "2xx",
		301: "3xx",
		404: "4xx",
		500: "5xx",
	}
	for code, want := range cases {
		if got := statusBucket(code); got != want {
			t.Errorf("statusBucket(%d) = %q, want %q", code, got, want)
		}
	}
}
