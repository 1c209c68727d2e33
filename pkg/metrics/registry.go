package metrics

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
)

type kind int

const (
	kindCounter kind = iota
	kindGauge
	kindHistogram
)

func (k kind) String() string {
	switch k {
	case kindCounter:
		return "counter"
	case kindGauge:
		return "gauge"
	default:
		return "summary"
	}
}

type series struct {
	labels string
	value  float64
	count  uint64
}

type family struct {
	kind   kind
	series map[string]*series
}

// Registry is an in-memory Collector that renders the Prometheus text
// exposition format. Histograms are exported as a _sum and _count pair.
type Registry struct {
	mu       sync.Mutex
	families map[string]*family
}

var _ Collector = (*Registry)(nil)

func NewRegistry() *Registry {
	return &Registry{families: make(map[string]*family)}
}

func (r *Registry) IncCounter(name string, labels map[string]string, delta float64) {
	r.update(name, kindCounter, labels, func(s *series) { s.value += delta })
}

func (r *Registry) SetGauge(name string, labels map[string]string, value float64) {
	r.update(name, kindGauge, labels, func(s *series) { s.value = value })
}

func (r *Registry) ObserveHistogram(name string, labels map[string]string, value float64) {
	r.update(name, kindHistogram, labels, func(s *series) {
		s.value += value
		s.count++
	})
}

func (r *Registry) update(name string, k kind, labels map[string]string, fn func(*series)) {
	key := formatLabels(labels)

	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.families[name]
	if !ok {
		f = &family{kind: k, series: make(map[string]*series)}
		r.families[name] = f
	}
	if f.kind != k {
		// first registration wins
		return
	}
	s, ok := f.series[key]
	if !ok {
		s = &series{labels: key}
		f.series[key] = s
	}
	fn(s)
}

// Value returns the current value of a counter or gauge, or the sum of a
// histogram.
func (r *Registry) Value(name string, labels map[string]string) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.families[name]
	if !ok {
		return 0, false
	}
	s, ok := f.series[formatLabels(labels)]
	if !ok {
		return 0, false
	}
	return s.value, true
}

// WriteTo renders every family sorted by name.
func (r *Registry) WriteTo(w io.Writer) (int64, error) {
	r.mu.Lock()
	var b strings.Builder
	for _, name := range slices.Sorted(maps.Keys(r.families)) {
		f := r.families[name]
		fmt.Fprintf(&b, "# TYPE %s %s\n", name, f.kind)
		for _, key := range slices.Sorted(maps.Keys(f.series)) {
			s := f.series[key]
			if f.kind == kindHistogram {
				fmt.Fprintf(&b, "%s_sum%s %s\n", name, s.labels, formatValue(s.value))
				fmt.Fprintf(&b, "%s_count%s %d\n", name, s.labels, s.count)
				continue
			}
			fmt.Fprintf(&b, "%s%s %s\n", name, s.labels, formatValue(s.value))
		}
	}
	r.mu.Unlock()

	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	parts := make([]string, 0, len(labels))
	for _, k := range slices.Sorted(maps.Keys(labels)) {
		parts = append(parts, k+"="+strconv.Quote(labels[k]))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
