package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func delta(t *testing.T, collector prometheus.Collector, observe func()) float64 {
	t.Helper()

	before := testutil.ToFloat64(collector)
	observe()
	after := testutil.ToFloat64(collector)
	return after - before
}

func TestRepositoryRecords(t *testing.T) {
	m := NewRepository()
	start := time.Now().Add(-time.Second)

	if inc := delta(t, repositoryRequestsTotal.WithLabelValues("insert_serials", "success"), func() {
		m.Observe("insert_serials", nil, start)
	}); inc != 1 {
		t.Fatalf("expected success counter increment, got %v", inc)
	}

	if inc := delta(t, repositoryRequestsTotal.WithLabelValues("insert_serials", "error"), func() {
		m.Observe("insert_serials", errors.New("boom"), start)
	}); inc != 1 {
		t.Fatalf("expected error counter increment, got %v", inc)
	}
}

func TestProverRecords(t *testing.T) {
	m := NewProver()
	start := time.Now().Add(-500 * time.Millisecond)

	m.ObserveStage("witness", nil, start)
	m.ObserveStage("prove", errors.New("fail"), start)

	if inc := delta(t, proverRunsTotal.WithLabelValues("success"), func() {
		m.ObserveRun(3, nil)
	}); inc != 1 {
		t.Fatalf("expected run success counter increment, got %v", inc)
	}
	if batches := testutil.ToFloat64(proverRunBatches); batches != 3 {
		t.Fatalf("expected last run batches 3, got %v", batches)
	}

	if inc := delta(t, proverRunsTotal.WithLabelValues("error"), func() {
		m.ObserveRun(0, errors.New("aborted"))
	}); inc != 1 {
		t.Fatalf("expected run error counter increment, got %v", inc)
	}
	if batches := testutil.ToFloat64(proverRunBatches); batches != 3 {
		t.Fatalf("failed run must not overwrite last run batches, got %v", batches)
	}
}

func TestAnchorRecords(t *testing.T) {
	m := NewAnchor()
	start := time.Now().Add(-200 * time.Millisecond)

	if inc := delta(t, anchorRPCTotal.WithLabelValues("w3b_submitProof", "success"), func() {
		m.Observe("w3b_submitProof", nil, start)
	}); inc != 1 {
		t.Fatalf("expected rpc counter increment, got %v", inc)
	}

	m.Observe("w3b_setPrice", errors.New("swing"), start)
}

func TestRateRecords(t *testing.T) {
	m := NewRate()

	if inc := delta(t, rateRefreshTotal.WithLabelValues("success"), func() {
		m.ObserveRefresh(nil)
	}); inc != 1 {
		t.Fatalf("expected refresh counter increment, got %v", inc)
	}

	if inc := delta(t, rateStaleServes, func() {
		m.ObserveStaleServe()
	}); inc != 1 {
		t.Fatalf("expected stale serve counter increment, got %v", inc)
	}

	if inc := delta(t, rateSwingFlags, func() {
		m.ObserveSwingFlag()
	}); inc != 1 {
		t.Fatalf("expected swing flag counter increment, got %v", inc)
	}

	m.SetCurrent(0.55)
	if current := testutil.ToFloat64(rateCurrent); current != 0.55 {
		t.Fatalf("expected current rate 0.55, got %v", current)
	}
}
