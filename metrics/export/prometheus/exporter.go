package prometheus

import (
	"context"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"strings"

	goMembership "github.com/MrEthical07/goMembership"
	"github.com/MrEthical07/goMembership/metrics/export/internaldefs"
)

// Source supplies the counters an Exporter renders. *goMembership.Engine
// satisfies it.
type Source interface {
	MetricsSnapshot() goMembership.MetricsSnapshot
	AuditDropped() uint64
}

// Exporter renders engine metrics in the Prometheus text exposition format.
// It is an http.Handler.
type Exporter struct {
	source Source
	live   internaldefs.LiveSource
	labels string
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithLabels adds constant labels, such as the application name, to every
// series.
func WithLabels(labels map[string]string) Option {
	return func(e *Exporter) {
		pairs := make([]string, 0, len(labels))
		for _, k := range slices.Sorted(maps.Keys(labels)) {
			pairs = append(pairs, k+`="`+escapeLabel(labels[k])+`"`)
		}
		e.labels = strings.Join(pairs, ",")
	}
}

// WithLiveGauges also reports users online and stored sessions. Each scrape
// then queries the backends through live.
func WithLiveGauges(live internaldefs.LiveSource) Option {
	return func(e *Exporter) { e.live = live }
}

// New returns an Exporter over source.
func New(source Source, opts ...Option) *Exporter {
	e := &Exporter{source: source}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ServeHTTP writes the current metrics. Live gauges use the request context.
func (e *Exporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	_, _ = w.Write([]byte(e.Render(r.Context())))
}

// Render returns the exposition text. It is empty while metrics are
// disabled and nothing has been dropped.
func (e *Exporter) Render(ctx context.Context) string {
	if e == nil || e.source == nil {
		return ""
	}

	snapshot := e.source.MetricsSnapshot()
	dropped := e.source.AuditDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 {
		return ""
	}

	t := textWriter{labels: e.labels}
	t.b.Grow(4096)

	for _, def := range internaldefs.CounterDefs {
		t.family(def.Name, def.Help, "counter")
		t.sample(def.Name, "", snapshot.Counters[def.ID])
	}
	t.family(internaldefs.AuditDroppedName, internaldefs.AuditDroppedHelp, "counter")
	t.sample(internaldefs.AuditDroppedName, "", dropped)

	for _, def := range internaldefs.HistogramDefs {
		buckets := internaldefs.Cumulative(snapshot.Histograms[def.ID])
		t.family(def.Name, def.Help, "histogram")
		for i, le := range internaldefs.HistogramBounds {
			t.sample(def.Name+"_bucket", `le="`+le+`"`, buckets[i])
		}
		t.sample(def.Name+"_count", "", buckets[len(buckets)-1])
		// Buckets only; durations are not summed.
		t.sample(def.Name+"_sum", "", 0)
	}

	if e.live != nil {
		for _, def := range internaldefs.GaugeDefs {
			n, err := def.Read(e.live, ctx)
			if err != nil {
				continue
			}
			t.family(def.Name, def.Help, "gauge")
			t.sample(def.Name, "", uint64(n))
		}
	}

	return t.b.String()
}

type textWriter struct {
	b      strings.Builder
	labels string
}

func (t *textWriter) family(name, help, kind string) {
	t.b.WriteString("# HELP " + name + " " + escapeHelp(help) + "\n")
	t.b.WriteString("# TYPE " + name + " " + kind + "\n")
}

func (t *textWriter) sample(name, label string, v uint64) {
	t.b.WriteString(name)
	switch {
	case t.labels != "" && label != "":
		t.b.WriteString("{" + t.labels + "," + label + "}")
	case t.labels != "":
		t.b.WriteString("{" + t.labels + "}")
	case label != "":
		t.b.WriteString("{" + label + "}")
	}
	t.b.WriteByte(' ')
	t.b.WriteString(strconv.FormatUint(v, 10))
	t.b.WriteByte('\n')
}

var (
	helpEscaper  = strings.NewReplacer(`\`, `\\`, "\n", `\n`)
	labelEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`, `"`, `\"`)
)

func escapeHelp(s string) string  { return helpEscaper.Replace(s) }
func escapeLabel(s string) string { return labelEscaper.Replace(s) }
