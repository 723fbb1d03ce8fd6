package prometheus

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	goAuthSync "github.com/MrEthical07/goAuthSync"
	"github.com/MrEthical07/goAuthSync/metrics/export/internaldefs"
)

type metricsSource interface {
	MetricsSnapshot() goAuthSync.MetricsSnapshot
	AuditDropped() uint64
}

// series is one source plus the label pairs identifying it, already rendered
// as `k="v",...` without braces.
type series struct {
	labels string
	source metricsSource
}

type sample struct {
	labels   string
	snapshot goAuthSync.MetricsSnapshot
	dropped  uint64
}

// PrometheusExporter renders the metrics of one or more clients in Prometheus
// text exposition format. Clients added with [PrometheusExporter.AddClient]
// are told apart by storage_key and client_instance labels.
type PrometheusExporter struct {
	mu     sync.RWMutex
	series []series
}

// NewPrometheusExporter reads from clients on every scrape.
func NewPrometheusExporter(clients ...*goAuthSync.Client) *PrometheusExporter {
	p := &PrometheusExporter{}
	for _, c := range clients {
		p.AddClient(c)
	}
	return p
}

// NewPrometheusExporterFromSource reads from any snapshot source. Its series
// carry no labels.
func NewPrometheusExporterFromSource(source metricsSource) *PrometheusExporter {
	p := &PrometheusExporter{}
	if source != nil {
		p.series = append(p.series, series{source: source})
	}
	return p
}

// AddClient adds a client to the scrape. Nil clients are ignored.
func (p *PrometheusExporter) AddClient(c *goAuthSync.Client) {
	if c == nil {
		return
	}
	labels := `storage_key="` + escapeLabel(c.StorageKey()) + `",client_instance="` +
		strconv.FormatUint(c.Instance(), 10) + `"`
	p.mu.Lock()
	p.series = append(p.series, series{labels: labels, source: c})
	p.mu.Unlock()
}

// Handler serves the exposition over HTTP.
func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		var buf bytes.Buffer
		if _, err := p.WriteTo(&buf); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = buf.WriteTo(w)
	})
}

// Render returns the current exposition, or "" when no source collects
// anything.
func (p *PrometheusExporter) Render() string {
	var b strings.Builder
	// strings.Builder never fails.
	_, _ = p.WriteTo(&b)
	return b.String()
}

// WriteTo streams the exposition to w and reports the bytes written. It
// implements io.WriterTo.
func (p *PrometheusExporter) WriteTo(w io.Writer) (int64, error) {
	samples := p.collect()
	if len(samples) == 0 {
		return 0, nil
	}

	cw := &countingWriter{w: w}
	bw := bufio.NewWriter(cw)
	for _, def := range internaldefs.CounterDefs {
		header(bw, def.Name, def.Help, "counter")
		for _, s := range samples {
			line(bw, def.Name, s.labels, "", s.snapshot.Counters[def.ID])
		}
	}
	for _, def := range internaldefs.HistogramDefs {
		header(bw, def.Name, def.Help, "histogram")
		for _, s := range samples {
			cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(s.snapshot.Histograms[def.ID]))
			for i, le := range internaldefs.HistogramBounds {
				line(bw, def.Name+"_bucket", s.labels, `le="`+le+`"`, cumulative[i])
			}
			line(bw, def.Name+"_count", s.labels, "", cumulative[len(cumulative)-1])
			// Only bucket counts are tracked.
			line(bw, def.Name+"_sum", s.labels, "", 0)
		}
	}
	const dropped = "goauth_audit_dropped_total"
	header(bw, dropped, "Audit events dropped under dispatcher backpressure.", "counter")
	for _, s := range samples {
		line(bw, dropped, s.labels, "", s.dropped)
	}
	err := bw.Flush()
	return cw.n, err
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(b []byte) (int, error) {
	n, err := c.w.Write(b)
	c.n += int64(n)
	return n, err
}

// collect snapshots every source, skipping those with collection disabled and
// nothing dropped.
func (p *PrometheusExporter) collect() []sample {
	if p == nil {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]sample, 0, len(p.series))
	for _, s := range p.series {
		snap := s.source.MetricsSnapshot()
		dropped := s.source.AuditDropped()
		if len(snap.Counters) == 0 && len(snap.Histograms) == 0 && dropped == 0 {
			continue
		}
		out = append(out, sample{labels: s.labels, snapshot: snap, dropped: dropped})
	}
	return out
}

func header(w *bufio.Writer, name, help, kind string) {
	w.WriteString("# HELP " + name + " " + escapeHelp(help) + "\n")
	w.WriteString("# TYPE " + name + " " + kind + "\n")
}

func line(w *bufio.Writer, name, labels, extra string, value uint64) {
	w.WriteString(name)
	switch {
	case labels != "" && extra != "":
		w.WriteString("{" + labels + "," + extra + "}")
	case labels != "":
		w.WriteString("{" + labels + "}")
	case extra != "":
		w.WriteString("{" + extra + "}")
	}
	w.WriteByte(' ')
	w.WriteString(strconv.FormatUint(value, 10))
	w.WriteByte('\n')
}

func escapeHelp(help string) string {
	help = strings.ReplaceAll(help, `\`, `\\`)
	return strings.ReplaceAll(help, "\n", `\n`)
}

func escapeLabel(v string) string {
	v = escapeHelp(v)
	return strings.ReplaceAll(v, `"`, `\"`)
}
