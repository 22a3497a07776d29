// Package metrics keeps in-process counters, gauges and latency histograms
// for dictd and renders them in the Prometheus text exposition format.
//
// Series are identified by name plus label set. Registering an existing
// series returns it, so callers may register lazily on the hot path.
package metrics

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MetricType is the Prometheus type of a series.
type MetricType int

const (
	TypeCounter MetricType = iota
	TypeGauge
	TypeHistogram
)

func (t MetricType) String() string {
	switch t {
	case TypeCounter:
		return "counter"
	case TypeGauge:
		return "gauge"
	case TypeHistogram:
		return "histogram"
	default:
		return "untyped"
	}
}

// Labels are the constant labels of one series.
type Labels map[string]string

// String renders the label set as {k="v",...} with sorted keys, or "" when
// empty. Values are escaped the way the exposition format requires.
func (l Labels) String() string {
	if len(l) == 0 {
		return ""
	}
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteString(`="`)
		b.WriteString(labelEscaper.Replace(l[k]))
		b.WriteByte('"')
	}
	b.WriteByte('}')
	return b.String()
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

// with returns the label set plus one extra pair, rendered.
func (l Labels) with(key, value string) string {
	s := l.String()
	pair := key + `="` + value + `"`
	if s == "" {
		return "{" + pair + "}"
	}
	return s[:len(s)-1] + "," + pair + "}"
}

// desc is the identity shared by every series type.
type desc struct {
	name   string
	help   string
	labels Labels
}

// Name returns the fully qualified metric name.
func (d *desc) Name() string { return d.name }

// Help returns the help text.
func (d *desc) Help() string { return d.help }

func (d *desc) key() string { return d.name + d.labels.String() }

// Counter only goes up.
type Counter struct {
	desc
	value atomic.Uint64
}

func (c *Counter) Inc()          { c.value.Add(1) }
func (c *Counter) Add(v uint64)  { c.value.Add(v) }
func (c *Counter) Value() uint64 { return c.value.Load() }

// Gauge holds a value that may go up and down.
type Gauge struct {
	desc
	value atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Add(v int64)  { g.value.Add(v) }
func (g *Gauge) Inc()         { g.value.Add(1) }
func (g *Gauge) Dec()         { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// DefaultBuckets suit sub-second to ten second latencies.
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// DurationBuckets extend DefaultBuckets to a minute for model inference.
var DurationBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60}

// Histogram counts observations into upper-bound buckets. An observation
// equal to a bound falls into that bound's bucket.
type Histogram struct {
	desc
	bounds []float64

	mu    sync.Mutex
	hits  []uint64 // per bucket, last one is +Inf
	sum   float64
	count uint64
}

// NewHistogram creates an unregistered histogram. Nil bounds select
// DefaultBuckets.
func NewHistogram(name, help string, labels Labels, bounds []float64) *Histogram {
	if bounds == nil {
		bounds = DefaultBuckets
	}
	sorted := append([]float64(nil), bounds...)
	sort.Float64s(sorted)
	return &Histogram{
		desc:   desc{name: name, help: help, labels: labels},
		bounds: sorted,
		hits:   make([]uint64, len(sorted)+1),
	}
}

// Observe records v.
func (h *Histogram) Observe(v float64) {
	i := sort.SearchFloat64s(h.bounds, v)

	h.mu.Lock()
	h.hits[i]++
	h.sum += v
	h.count++
	h.mu.Unlock()
}

// ObserveDuration records d in seconds.
func (h *Histogram) ObserveDuration(d time.Duration) {
	h.Observe(d.Seconds())
}

// Timer starts timing an operation. Call Stop on the result to record it.
func (h *Histogram) Timer() *Timer {
	return &Timer{h: h, start: time.Now()}
}

// Timer measures one operation into a histogram.
type Timer struct {
	h     *Histogram
	start time.Time
}

// Stop records the elapsed time and returns it.
func (t *Timer) Stop() time.Duration {
	d := time.Since(t.start)
	t.h.ObserveDuration(d)
	return d
}

// Buckets returns the cumulative count for each bound followed by +Inf.
func (h *Histogram) Buckets() []uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cumulative()
}

func (h *Histogram) cumulative() []uint64 {
	out := make([]uint64, len(h.hits))
	var running uint64
	for i, n := range h.hits {
		running += n
		out[i] = running
	}
	return out
}

func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func (h *Histogram) Sum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}

// Mean returns the average observation, or 0 before the first one.
func (h *Histogram) Mean() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		return 0
	}
	return h.sum / float64(h.count)
}

// Percentile estimates the p-th percentile (0-100) by interpolating
// inside the bucket that holds it.
func (h *Histogram) Percentile(p float64) float64 {
	h.mu.Lock()
	counts := h.cumulative()
	h.mu.Unlock()
	return Percentile(h.bounds, counts, p)
}

// Percentile estimates the p-th percentile from bucket bounds and their
// cumulative counts (one more count than bounds, for +Inf). The +Inf
// bucket is taken to end at twice the last bound.
func Percentile(bounds []float64, cumulative []uint64, p float64) float64 {
	if len(bounds) == 0 || len(cumulative) == 0 || cumulative[len(cumulative)-1] == 0 {
		return 0
	}
	total := cumulative[len(cumulative)-1]
	rank := uint64(math.Ceil(float64(total) * p / 100))
	if rank == 0 {
		rank = 1
	}

	i := sort.Search(len(cumulative), func(i int) bool { return cumulative[i] >= rank })
	if i == 0 {
		return bounds[0] / 2
	}
	lower := bounds[i-1]
	upper := lower * 2
	if i < len(bounds) {
		upper = bounds[i]
	}
	below := cumulative[i-1]
	frac := float64(rank-below) / float64(cumulative[i]-below)
	return lower + (upper-lower)*frac
}

func (h *Histogram) reset() {
	h.mu.Lock()
	clear(h.hits)
	h.sum = 0
	h.count = 0
	h.mu.Unlock()
}

// Registry owns a set of series under a common name prefix.
type Registry struct {
	prefix string

	mu         sync.RWMutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
}

// NewRegistry creates a registry whose metric names are prefixed with
// namespace and subsystem, each followed by an underscore when set.
func NewRegistry(namespace, subsystem string) *Registry {
	var prefix string
	for _, part := range []string{namespace, subsystem} {
		if part != "" {
			prefix += part + "_"
		}
	}
	return &Registry{
		prefix:     prefix,
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
	}
}

func (r *Registry) desc(name, help string, labels Labels) desc {
	return desc{name: r.prefix + name, help: help, labels: labels}
}

// register returns the series stored under d's key, creating it with mk.
func register[M any](r *Registry, series map[string]*M, d desc, mk func(desc) *M) *M {
	key := d.key()

	r.mu.RLock()
	m, ok := series[key]
	r.mu.RUnlock()
	if ok {
		return m
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := series[key]; ok {
		return m
	}
	m = mk(d)
	series[key] = m
	return m
}

func lookup[M any](r *Registry, series map[string]*M, name string, labels Labels) *M {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return series[r.prefix+name+labels.String()]
}

// RegisterCounter returns the counter for name and labels, creating it on
// first use.
func (r *Registry) RegisterCounter(name, help string, labels Labels) *Counter {
	return register(r, r.counters, r.desc(name, help, labels), func(d desc) *Counter {
		return &Counter{desc: d}
	})
}

// RegisterGauge returns the gauge for name and labels, creating it on
// first use.
func (r *Registry) RegisterGauge(name, help string, labels Labels) *Gauge {
	return register(r, r.gauges, r.desc(name, help, labels), func(d desc) *Gauge {
		return &Gauge{desc: d}
	})
}

// RegisterHistogram returns the histogram for name and labels, creating
// it with bounds on first use.
func (r *Registry) RegisterHistogram(name, help string, labels Labels, bounds []float64) *Histogram {
	return register(r, r.histograms, r.desc(name, help, labels), func(d desc) *Histogram {
		return NewHistogram(d.name, d.help, d.labels, bounds)
	})
}

// GetCounter returns the registered counter or nil.
func (r *Registry) GetCounter(name string, labels Labels) *Counter {
	return lookup(r, r.counters, name, labels)
}

// GetGauge returns the registered gauge or nil.
func (r *Registry) GetGauge(name string, labels Labels) *Gauge {
	return lookup(r, r.gauges, name, labels)
}

// GetHistogram returns the registered histogram or nil.
func (r *Registry) GetHistogram(name string, labels Labels) *Histogram {
	return lookup(r, r.histograms, name, labels)
}

// WritePrometheus writes every series in text exposition format. Series
// are sorted so that those sharing a name sit under one HELP/TYPE header.
func (r *Registry) WritePrometheus(w io.Writer) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bw := bufio.NewWriter(w)
	var last string
	header := func(d *desc, t MetricType) {
		if d.name == last {
			return
		}
		last = d.name
		fmt.Fprintf(bw, "# HELP %s %s\n# TYPE %s %s\n", d.name, d.help, d.name, t)
	}

	for _, key := range sortedKeys(r.counters) {
		c := r.counters[key]
		header(&c.desc, TypeCounter)
		fmt.Fprintf(bw, "%s %d\n", key, c.Value())
	}
	for _, key := range sortedKeys(r.gauges) {
		g := r.gauges[key]
		header(&g.desc, TypeGauge)
		fmt.Fprintf(bw, "%s %d\n", key, g.Value())
	}
	for _, key := range sortedKeys(r.histograms) {
		h := r.histograms[key]
		header(&h.desc, TypeHistogram)

		h.mu.Lock()
		counts := h.cumulative()
		sum, count := h.sum, h.count
		h.mu.Unlock()

		for i, bound := range h.bounds {
			le := strconv.FormatFloat(bound, 'g', -1, 64)
			fmt.Fprintf(bw, "%s_bucket%s %d\n", h.name, h.labels.with("le", le), counts[i])
		}
		fmt.Fprintf(bw, "%s_bucket%s %d\n", h.name, h.labels.with("le", "+Inf"), counts[len(h.bounds)])
		fmt.Fprintf(bw, "%s_sum%s %g\n", h.name, h.labels.String(), sum)
		fmt.Fprintf(bw, "%s_count%s %d\n", h.name, h.labels.String(), count)
	}
	return bw.Flush()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns current values keyed by series. Histograms contribute
// their _count and _sum.
func (r *Registry) Snapshot() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := make(map[string]any, len(r.counters)+len(r.gauges)+2*len(r.histograms))
	for key, c := range r.counters {
		snap[key] = c.Value()
	}
	for key, g := range r.gauges {
		snap[key] = g.Value()
	}
	for key, h := range r.histograms {
		snap[key+"_count"] = h.Count()
		snap[key+"_sum"] = h.Sum()
	}
	return snap
}

// Reset zeroes every series without unregistering it.
func (r *Registry) Reset() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.counters {
		c.value.Store(0)
	}
	for _, g := range r.gauges {
		g.value.Store(0)
	}
	for _, h := range r.histograms {
		h.reset()
	}
}

var defaultRegistry atomic.Pointer[Registry]

func init() {
	defaultRegistry.Store(NewRegistry("dictd", ""))
}

// Default returns the process-wide registry.
func Default() *Registry {
	return defaultRegistry.Load()
}

// SetDefault replaces the process-wide registry.
func SetDefault(r *Registry) {
	defaultRegistry.Store(r)
}
