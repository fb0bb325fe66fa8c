package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// labelKey serializes a label map into a stable string for map keying,
// e.g. {provider="openai",outcome="success"} becomes
// `outcome="success",provider="openai"`.
func labelKey(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%q", k, labels[k])
	}
	return b.String()
}

func copyLabels(labels map[string]string) map[string]string {
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

// counterEntry is one labeled counter value.
type counterEntry struct {
	labels map[string]string
	value  int64
}

// counterVec is a set of monotonically increasing counters keyed by labels.
type counterVec struct {
	mu     sync.Mutex
	counts map[string]*counterEntry
}

func newCounterVec() *counterVec {
	return &counterVec{counts: make(map[string]*counterEntry)}
}

// Inc adds one to the counter for the given labels.
func (cv *counterVec) Inc(labels map[string]string) {
	cv.Add(labels, 1)
}

// Add adds delta to the counter for the given labels.
func (cv *counterVec) Add(labels map[string]string, delta int64) {
	key := labelKey(labels)
	cv.mu.Lock()
	defer cv.mu.Unlock()
	e := cv.counts[key]
	if e == nil {
		e = &counterEntry{labels: copyLabels(labels)}
		cv.counts[key] = e
	}
	e.value += delta
}

// snapshot returns the entries in stable label order.
func (cv *counterVec) snapshot() []counterEntry {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	keys := make([]string, 0, len(cv.counts))
	for k := range cv.counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]counterEntry, 0, len(keys))
	for _, k := range keys {
		e := cv.counts[k]
		out = append(out, counterEntry{labels: e.labels, value: e.value})
	}
	return out
}

// gaugeEntry is one labeled gauge value.
type gaugeEntry struct {
	labels map[string]string
	value  float64
}

// gaugeVec is a set of settable values keyed by labels.
type gaugeVec struct {
	mu     sync.Mutex
	values map[string]*gaugeEntry
}

func newGaugeVec() *gaugeVec {
	return &gaugeVec{values: make(map[string]*gaugeEntry)}
}

// Set stores the value for the given labels, replacing any previous value.
func (gv *gaugeVec) Set(labels map[string]string, value float64) {
	key := labelKey(labels)
	gv.mu.Lock()
	defer gv.mu.Unlock()
	e := gv.values[key]
	if e == nil {
		e = &gaugeEntry{labels: copyLabels(labels)}
		gv.values[key] = e
	}
	e.value = value
}

// snapshot returns the entries in stable label order.
func (gv *gaugeVec) snapshot() []gaugeEntry {
	gv.mu.Lock()
	defer gv.mu.Unlock()
	keys := make([]string, 0, len(gv.values))
	for k := range gv.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]gaugeEntry, 0, len(keys))
	for _, k := range keys {
		e := gv.values[k]
		out = append(out, gaugeEntry{labels: e.labels, value: e.value})
	}
	return out
}

// histogram accumulates observations into fixed buckets for one label set.
// buckets holds upper bounds; counts[i] is the number of observations in
// (buckets[i-1], buckets[i]]. Observations above the last bound only count
// toward sum and count.
type histogram struct {
	labels  map[string]string
	buckets []float64
	counts  []int64
	sum     float64
	count   int64
}

func (h *histogram) observe(v float64) {
	h.sum += v
	h.count++
	for i, bound := range h.buckets {
		if v <= bound {
			h.counts[i]++
			return
		}
	}
}

// histogramVec is a set of histograms keyed by labels, sharing one bucket
// layout.
type histogramVec struct {
	mu      sync.Mutex
	buckets []float64
	hists   map[string]*histogram
}

func newHistogramVec(buckets []float64) *histogramVec {
	return &histogramVec{buckets: buckets, hists: make(map[string]*histogram)}
}

// Observe records a value into the histogram for the given labels.
func (hv *histogramVec) Observe(labels map[string]string, v float64) {
	key := labelKey(labels)
	hv.mu.Lock()
	defer hv.mu.Unlock()
	h := hv.hists[key]
	if h == nil {
		h = &histogram{
			labels:  copyLabels(labels),
			buckets: hv.buckets,
			counts:  make([]int64, len(hv.buckets)),
		}
		hv.hists[key] = h
	}
	h.observe(v)
}

// snapshot returns copies of the histograms in stable label order.
func (hv *histogramVec) snapshot() []histogram {
	hv.mu.Lock()
	defer hv.mu.Unlock()
	keys := make([]string, 0, len(hv.hists))
	for k := range hv.hists {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]histogram, 0, len(keys))
	for _, k := range keys {
		h := hv.hists[k]
		counts := make([]int64, len(h.counts))
		copy(counts, h.counts)
		out = append(out, histogram{
			labels:  h.labels,
			buckets: h.buckets,
			counts:  counts,
			sum:     h.sum,
			count:   h.count,
		})
	}
	return out
}
