package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vgem/vgem/install"
)

func TestObserverCountsByOutcome(t *testing.T) {
	unitsProcessed.Reset()
	var o Observer

	o.OnUnit(install.PhaseDownload, "widget-1.0.0", nil)
	o.OnUnit(install.PhaseDownload, "gadget-2.0.0", errors.New("boom"))
	o.OnUnit(install.PhaseExtract, "widget-1.0.0", nil)

	if got := testutil.ToFloat64(unitsProcessed.WithLabelValues("download", "ok")); got != 1 {
		t.Fatalf("download/ok = %v, want 1", got)
	}
	if got := testutil.ToFloat64(unitsProcessed.WithLabelValues("download", "error")); got != 1 {
		t.Fatalf("download/error = %v, want 1", got)
	}
	if got := testutil.ToFloat64(unitsProcessed.WithLabelValues("extract", "ok")); got != 1 {
		t.Fatalf("extract/ok = %v, want 1", got)
	}
}
