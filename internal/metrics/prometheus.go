package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/samber/lo"
)

var labelEscaper = strings.NewReplacer("\\", "\\\\", "\"", "\\\"", "\n", "\\n")

// PrometheusHandler exposes Metrics in Prometheus' text exposition format.
//
// Every counter is exported as one sample of a single metric, keyed by an
// `event` label.
func PrometheusHandler(m *Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
			return
		}

		snap := m.Snapshot()
		keys := lo.Keys(snap)
		sort.Strings(keys)

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = fmt.Fprintln(w, "# HELP aero_collab_relay_events_total Relay event counters.")
		_, _ = fmt.Fprintln(w, "# TYPE aero_collab_relay_events_total counter")
		for _, k := range keys {
			escaped := labelEscaper.Replace(k)
			_, _ = fmt.Fprintf(w, "aero_collab_relay_events_total{event=\"%s\"} %d\n", escaped, snap[k])
		}
	})
}
