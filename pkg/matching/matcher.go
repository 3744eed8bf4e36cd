// Package matching compares live face descriptors against the enrolled
// templates of a registry snapshot.
package matching

import (
	"math"
	"sort"

	"github.com/MrCodeEU/facecheckin/pkg/recognition"
	"github.com/coder/hnsw"
)

// DefaultThreshold is the distance below which a descriptor matches.
const DefaultThreshold = 0.5

// Index kinds.
const (
	IndexLinear = "linear"
	IndexHNSW   = "hnsw"
)

// Entry is one enrolled template of the registry.
type Entry struct {
	ID         string
	Descriptor recognition.Descriptor
}

// Result is the outcome of matching one live descriptor.
// TemplateID names the nearest entry, even when it is too far to match;
// it is empty only for an empty registry.
type Result struct {
	Matched      bool    `json:"matched"`
	BestDistance float64 `json:"best_distance"`
	Score        float64 `json:"score"`
	TemplateID   string  `json:"template_id,omitempty"`
}

// Options configures a Matcher.
type Options struct {
	Threshold  float64
	Index      string
	Candidates int // neighbours shortlisted by the hnsw index
}

// DefaultOptions returns exhaustive matching at the default threshold.
func DefaultOptions() Options {
	return Options{
		Threshold:  DefaultThreshold,
		Index:      IndexLinear,
		Candidates: 8,
	}
}

// Matcher matches descriptors against a fixed snapshot of entries.
// It never mutates its entries and is safe for concurrent use.
type Matcher struct {
	entries []Entry
	opts    Options
	graph   *hnsw.Graph[int]
}

// NewMatcher builds a matcher over a copy of entries.
func NewMatcher(entries []Entry, opts Options) *Matcher {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Candidates <= 0 {
		opts.Candidates = 8
	}

	m := &Matcher{
		entries: append([]Entry(nil), entries...),
		opts:    opts,
	}

	if opts.Index == IndexHNSW && len(m.entries) > opts.Candidates {
		m.graph = buildGraph(m.entries)
	}
	return m
}

func buildGraph(entries []Entry) *hnsw.Graph[int] {
	g := hnsw.NewGraph[int]()
	g.M = 16
	g.Ml = 1.0 / 16
	g.EfSearch = 64
	g.Distance = hnsw.EuclideanDistance

	for i := range entries {
		d := entries[i].Descriptor
		g.Add(hnsw.MakeNode(i, d[:]))
	}
	return g
}

// Len returns the number of entries in the snapshot.
func (m *Matcher) Len() int {
	return len(m.entries)
}

// Match finds the nearest entry to live.
func (m *Matcher) Match(live recognition.Descriptor) Result {
	if len(m.entries) == 0 {
		return Result{BestDistance: math.MaxFloat64}
	}

	best, dist := m.nearest(live)
	return Result{
		Matched:      dist < m.opts.Threshold,
		BestDistance: dist,
		Score:        Score(dist),
		TemplateID:   m.entries[best].ID,
	}
}

func (m *Matcher) nearest(live recognition.Descriptor) (int, float64) {
	candidates := m.shortlist(live)

	best := -1
	bestDist := math.MaxFloat64
	for _, i := range candidates {
		if d := recognition.EuclideanDistance(live, m.entries[i].Descriptor); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best, bestDist
}

// shortlist returns the entry indexes to compare exactly, in entry order
// so that ties resolve to the earliest entry.
func (m *Matcher) shortlist(live recognition.Descriptor) []int {
	if m.graph != nil {
		neighbors := m.graph.Search(live[:], m.opts.Candidates)
		if len(neighbors) > 0 {
			idx := make([]int, len(neighbors))
			for i, n := range neighbors {
				idx[i] = n.Key
			}
			sort.Ints(idx)
			return idx
		}
	}

	idx := make([]int, len(m.entries))
	for i := range idx {
		idx[i] = i
	}
	return idx
}

// Score maps a distance onto [0,100]; 0 distance scores 100.
func Score(distance float64) float64 {
	return clamp01(1-distance) * 100
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
