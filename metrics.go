package flatdb

import (
	"fmt"
	"io"

	"github.com/VictoriaMetrics/metrics"
)

// countOp bumps the per-table operation counter. Counters live in the
// process-wide metrics set; two DBs in one process share it.
func countOp(op, tableName string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`flatdb_ops_total{op=%q,table=%q}`, op, tableName)).Inc()
}

// WriteMetrics writes all accumulated counters in Prometheus text format,
// for hosts that expose an endpoint or dump stats on shutdown.
func WriteMetrics(w io.Writer) {
	metrics.WritePrometheus(w, false)
}
