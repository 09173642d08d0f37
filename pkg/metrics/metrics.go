// Package metrics is a small Prometheus text-format registry for the pricing
// engine: counters, gauges and histograms keyed by name plus baked-in labels,
// served on /metrics.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBuckets are the default histogram buckets (in seconds). Scrape and
// normalization runs can take minutes, hence the long tail.
var DefaultBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}

// Counter is a monotonically increasing counter.
type Counter struct{ val atomic.Int64 }

func (c *Counter) Inc()         { c.val.Add(1) }
func (c *Counter) Add(n int64)  { c.val.Add(n) }
func (c *Counter) Value() int64 { return c.val.Load() }

// Gauge can go up and down. It holds a float64 stored as bits.
type Gauge struct{ bits atomic.Uint64 }

func (g *Gauge) Set(v float64)  { g.bits.Store(math.Float64bits(v)) }
func (g *Gauge) Inc()           { g.Add(1) }
func (g *Gauge) Dec()           { g.Add(-1) }
func (g *Gauge) Value() float64 { return math.Float64frombits(g.bits.Load()) }

// Add adjusts the gauge by d.
func (g *Gauge) Add(d float64) {
	for {
		old := g.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + d)
		if g.bits.CompareAndSwap(old, next) {
			return
		}
	}
}

// Histogram counts observations into fixed upper-bound buckets.
type Histogram struct {
	mu     sync.Mutex
	bounds []float64
	counts []uint64 // per bucket, not cumulative
	sum    float64
	total  uint64
}

func newHistogram(bounds []float64) *Histogram {
	b := append([]float64(nil), bounds...)
	sort.Float64s(b)
	return &Histogram{bounds: b, counts: make([]uint64, len(b))}
}

// Observe records v.
func (h *Histogram) Observe(v float64) {
	i := sort.SearchFloat64s(h.bounds, v)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum += v
	h.total++
	if i < len(h.counts) {
		h.counts[i]++
	}
}

// Since observes the seconds elapsed since t.
func (h *Histogram) Since(t time.Time) { h.Observe(time.Since(t).Seconds()) }

func (h *Histogram) write(b *strings.Builder, base, labels string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sep := ""
	if labels != "" {
		sep = ","
	}
	var cum uint64
	for i, bound := range h.bounds {
		cum += h.counts[i]
		fmt.Fprintf(b, "%s_bucket{le=\"%g\"%s%s} %d\n", base, bound, sep, labels, cum)
	}
	fmt.Fprintf(b, "%s_bucket{le=\"+Inf\"%s%s} %d\n", base, sep, labels, h.total)
	fmt.Fprintf(b, "%s_sum%s %g\n", base, braces(labels), h.sum)
	fmt.Fprintf(b, "%s_count%s %d\n", base, braces(labels), h.total)
}

const (
	typeCounter   = "counter"
	typeGauge     = "gauge"
	typeHistogram = "histogram"
)

// family groups every label combination of one metric name.
type family struct {
	typ    string
	help   string
	series map[string]any // label body -> *Counter, *Gauge or *Histogram
}

// Registry holds named metrics. Names may carry labels, as built by
// WithLabels; each label combination is its own series.
type Registry struct {
	mu       sync.RWMutex
	families map[string]*family
	order    []string // base names in registration order
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{families: make(map[string]*family)}
}

// series returns the metric registered under name, creating it with mk. It
// panics when the base name is already registered with another type.
func (r *Registry) series(name, typ, help string, mk func() any) any {
	base, labels := splitName(name)

	r.mu.RLock()
	if f, ok := r.families[base]; ok && f.typ == typ {
		if m, ok := f.series[labels]; ok {
			r.mu.RUnlock()
			return m
		}
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.families[base]
	if !ok {
		f = &family{typ: typ, series: make(map[string]any)}
		r.families[base] = f
		r.order = append(r.order, base)
	}
	if f.typ != typ {
		panic(fmt.Sprintf("metrics: %s registered as %s, requested as %s", base, f.typ, typ))
	}
	if f.help == "" {
		f.help = help
	}
	m, ok := f.series[labels]
	if !ok {
		m = mk()
		f.series[labels] = m
	}
	return m
}

// Counter returns the counter for name, creating it on first use.
func (r *Registry) Counter(name, help string) *Counter {
	return r.series(name, typeCounter, help, func() any { return &Counter{} }).(*Counter)
}

// Gauge returns the gauge for name, creating it on first use.
func (r *Registry) Gauge(name, help string) *Gauge {
	return r.series(name, typeGauge, help, func() any { return &Gauge{} }).(*Gauge)
}

// Histogram returns the histogram for name, creating it on first use with
// buckets (DefaultBuckets when nil). Later calls ignore buckets.
func (r *Registry) Histogram(name, help string, buckets []float64) *Histogram {
	if buckets == nil {
		buckets = DefaultBuckets
	}
	return r.series(name, typeHistogram, help, func() any { return newHistogram(buckets) }).(*Histogram)
}

// WithLabels returns name with label pairs appended, e.g.
// WithLabels("foo", "k", "v") => `foo{k="v"}`. An odd pair count returns
// name unchanged.
func WithLabels(name string, kvs ...string) string {
	if len(kvs) == 0 || len(kvs)%2 != 0 {
		return name
	}
	pairs := make([]string, 0, len(kvs)/2)
	for i := 0; i < len(kvs); i += 2 {
		pairs = append(pairs, kvs[i]+`="`+kvs[i+1]+`"`)
	}
	return name + "{" + strings.Join(pairs, ",") + "}"
}

// splitName separates `foo{k="v"}` into "foo" and `k="v"`.
func splitName(name string) (base, labels string) {
	i := strings.IndexByte(name, '{')
	if i < 0 || !strings.HasSuffix(name, "}") {
		return name, ""
	}
	return name[:i], name[i+1 : len(name)-1]
}

func braces(labels string) string {
	if labels == "" {
		return ""
	}
	return "{" + labels + "}"
}

// Render writes every metric in the Prometheus text exposition format.
// Families keep registration order; series within a family are sorted.
func (r *Registry) Render() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	for _, base := range r.order {
		f := r.families[base]
		if f.help != "" {
			fmt.Fprintf(&b, "# HELP %s %s\n", base, f.help)
		}
		fmt.Fprintf(&b, "# TYPE %s %s\n", base, f.typ)

		keys := make([]string, 0, len(f.series))
		for k := range f.series {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, labels := range keys {
			switch m := f.series[labels].(type) {
			case *Counter:
				fmt.Fprintf(&b, "%s%s %d\n", base, braces(labels), m.Value())
			case *Gauge:
				fmt.Fprintf(&b, "%s%s %g\n", base, braces(labels), m.Value())
			case *Histogram:
				m.write(&b, base, labels)
			}
		}
	}
	return b.String()
}

// Handler serves Render as text/plain.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.Write([]byte(r.Render()))
	})
}

// Serve listens on port and serves /metrics until the server fails.
func (r *Registry) Serve(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok\n"))
	})
	return http.ListenAndServe(fmt.Sprintf(":%d", port), mux)
}

// ServeAsync runs Serve in a goroutine and logs its failure.
func (r *Registry) ServeAsync(port int, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	go func() {
		if err := r.Serve(port); err != nil && err != http.ErrServerClosed {
			log.Error("metrics: server stopped", "port", port, "error", err)
		}
	}()
}
// CollectRuntime samples goroutine and heap gauges every interval until ctx
// is done.
func (r *Registry) CollectRuntime(ctx context.Context, interval time.Duration) {
	goroutines := r.Gauge("go_goroutines", "Number of goroutines.")
	heap := r.Gauge("go_heap_alloc_bytes", "Bytes of allocated heap objects.")
	sample := func() {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		goroutines.Set(float64(runtime.NumGoroutine()))
		heap.Set(float64(ms.HeapAlloc))
	}
	sample()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			sample()
		}
	}
}
