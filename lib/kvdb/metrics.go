package kvdb

import (
	"github.com/VictoriaMetrics/metrics"
	"io"
)

var (
	metricPut          = metrics.NewCounter(`tkv_ops_total{op="put"}`)
	metricGet          = metrics.NewCounter(`tkv_ops_total{op="get"}`)
	metricDelete       = metrics.NewCounter(`tkv_ops_total{op="delete"}`)
	metricPrefixDelete = metrics.NewCounter(`tkv_ops_total{op="prefix_delete"}`)
	metricPrefixProbe  = metrics.NewCounter(`tkv_ops_total{op="prefix_probe"}`)
	metricCursorRead   = metrics.NewCounter(`tkv_ops_total{op="cursor_read"}`)
	metricCursorSeek   = metrics.NewCounter(`tkv_ops_total{op="cursor_seek"}`)

	metricCommits   = metrics.NewCounter(`tkv_txn_commits_total`)
	metricAborts    = metrics.NewCounter(`tkv_txn_aborts_total`)
	metricConflicts = metrics.NewCounter(`tkv_txn_conflicts_total`)

	metricPrefixCursors = metrics.NewCounter(`tkv_cursors_created_total{kind="prefix"}`)
	metricScanCursors   = metrics.NewCounter(`tkv_cursors_created_total{kind="scan"}`)

	metricPruned = metrics.NewCounter(`tkv_conflict_records_pruned_total`)

	_ = metrics.NewGauge(`tkv_kvdb_open`, func() float64 {
		return float64(rt.dbs.Size())
	})
)

// WriteMetrics writes all library metrics in Prometheus text format
func WriteMetrics(w io.Writer) {
	metrics.WritePrometheus(w, true)
}
