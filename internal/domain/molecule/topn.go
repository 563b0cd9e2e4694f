package molecule

import (
	"math"
	"sort"
	"strconv"

	"github.com/GUI0609/rdkit/pkg/errors"
)

// ScoredItem is one retained neighbor.
type ScoredItem struct {
	Score float64 `json:"score"`
	ID    string  `json:"id"`
}

// TopNAccumulator keeps the N highest-scoring items of a stream.
//
// Storage is always ascending by score so the eviction threshold is items[0].
// Equal scores are kept in arrival order (a new item goes after existing
// items with the same score), so after Reverse the latest of a tie reads
// first.  An accumulator is not safe for concurrent use.
type TopNAccumulator struct {
	capacity int
	items    []ScoredItem
	reversed bool
}

// NewTopNAccumulator returns an empty accumulator holding at most n items.
func NewTopNAccumulator(n int) (*TopNAccumulator, error) {
	if n < 1 {
		return nil, errors.InvalidParam("top-N capacity must be at least 1").
			WithDetail("got " + strconv.Itoa(n))
	}
	return &TopNAccumulator{capacity: n, items: make([]ScoredItem, 0, n)}, nil
}

// Insert offers a candidate.  NaN scores are ignored.  When full, a score not
// strictly above the current minimum is rejected without touching storage.
func (a *TopNAccumulator) Insert(score float64, id string) {
	if math.IsNaN(score) {
		return
	}
	full := len(a.items) == a.capacity
	if full && score <= a.items[0].Score {
		return
	}

	pos := sort.Search(len(a.items), func(i int) bool { return a.items[i].Score > score })
	item := ScoredItem{Score: score, ID: id}

	if full {
		// pos >= 1 here; drop items[0] and slide the prefix left into the gap.
		copy(a.items[:pos-1], a.items[1:pos])
		a.items[pos-1] = item
		return
	}
	a.items = append(a.items, ScoredItem{})
	copy(a.items[pos+1:], a.items[pos:])
	a.items[pos] = item
}

// Len returns the number of retained items.
func (a *TopNAccumulator) Len() int { return len(a.items) }

// Cap returns the fixed capacity.
func (a *TopNAccumulator) Cap() int { return a.capacity }

// Min returns the lowest retained score, false when empty.
func (a *TopNAccumulator) Min() (float64, bool) {
	if len(a.items) == 0 {
		return 0, false
	}
	return a.items[0].Score, true
}

// Reverse flips the presentation order of Scores, Identifiers and Items.
func (a *TopNAccumulator) Reverse() { a.reversed = !a.reversed }

// Reversed reports whether results currently read best first.
func (a *TopNAccumulator) Reversed() bool { return a.reversed }

// Items returns a copy of the retained items in presentation order.
func (a *TopNAccumulator) Items() []ScoredItem {
	out := make([]ScoredItem, len(a.items))
	for i := range a.items {
		out[i] = a.items[a.at(i)]
	}
	return out
}

// Scores returns the retained scores in presentation order.
func (a *TopNAccumulator) Scores() []float64 {
	out := make([]float64, len(a.items))
	for i := range a.items {
		out[i] = a.items[a.at(i)].Score
	}
	return out
}

// Identifiers returns the retained identifiers, index-aligned with Scores.
func (a *TopNAccumulator) Identifiers() []string {
	out := make([]string, len(a.items))
	for i := range a.items {
		out[i] = a.items[a.at(i)].ID
	}
	return out
}

func (a *TopNAccumulator) at(i int) int {
	if a.reversed {
		return len(a.items) - 1 - i
	}
	return i
}
