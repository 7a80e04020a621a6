package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorsRegistered(t *testing.T) {
	Actions.WithLabelValues("acknowledge", "ok").Inc()
	if got := testutil.ToFloat64(Actions.WithLabelValues("acknowledge", "ok")); got < 1 {
		t.Errorf("acebot_actions_total = %v; want >= 1", got)
	}

	n, err := testutil.GatherAndCount(prometheus.DefaultGatherer, "acebot_actions_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if n == 0 {
		t.Error("acebot_actions_total not found on the default registry")
	}
}
