package molecule

import (
	"fmt"
	"strings"

	"github.com/GUI0609/rdkit/pkg/errors"
)

// Metric names accepted by ParseSimilarity.
const (
	MetricTanimoto    = "tanimoto"
	MetricDice        = "dice"
	MetricFingerprint = "fingerprint"
)

// Similarity scores a pair of fingerprints in [0,1].
type Similarity interface {
	Name() string
	Compare(a, b Fingerprint) (float64, error)
}

// BulkSimilarity is implemented by metrics that can score one fingerprint
// against many in a single call.  The result is index-aligned with others.
type BulkSimilarity interface {
	Similarity
	BulkCompare(fp Fingerprint, others []Fingerprint) ([]float64, error)
}

// ParseSimilarity resolves a metric name.
func ParseSimilarity(name string) (Similarity, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case MetricTanimoto:
		return Tanimoto{}, nil
	case MetricDice:
		return Dice{}, nil
	case MetricFingerprint:
		return FoldedTanimoto{}, nil
	default:
		return nil, errors.InvalidParam("unknown similarity metric: " + name)
	}
}

func incompatible(a, b Fingerprint) error {
	return errors.New(errors.ErrCodeSimilaritySearchFailed, "incompatible fingerprints").
		WithDetail(fmt.Sprintf("%s/%d vs %s/%d", kindOf(a), sizeOf(a), kindOf(b), sizeOf(b)))
}

func kindOf(fp Fingerprint) string {
	if fp == nil {
		return "nil"
	}
	return fp.Kind().String()
}

func sizeOf(fp Fingerprint) int {
	if fp == nil {
		return 0
	}
	return fp.Size()
}

// ratio returns num/den, 0 when den is 0.
func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

// bulk applies a pairwise function across others.
func bulk(cmp func(a, b Fingerprint) (float64, error), fp Fingerprint, others []Fingerprint) ([]float64, error) {
	out := make([]float64, len(others))
	for i, o := range others {
		s, err := cmp(fp, o)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Tanimoto
// ─────────────────────────────────────────────────────────────────────────────

// Tanimoto is |a∩b| / |a∪b| on bit vectors and Σmin / (Σa + Σb - Σmin) on
// count vectors.  Both operands must have the same kind and size.
type Tanimoto struct{}

func (Tanimoto) Name() string { return MetricTanimoto }

func (Tanimoto) Compare(a, b Fingerprint) (float64, error) {
	switch x := a.(type) {
	case *BitVector:
		y, ok := b.(*BitVector)
		if !ok || x.n != y.n {
			return 0, incompatible(a, b)
		}
		both := float64(intersectCount(x, y))
		return ratio(both, float64(x.Count()+y.Count())-both), nil
	case *CountVector:
		y, ok := b.(*CountVector)
		if !ok || x.size != y.size {
			return 0, incompatible(a, b)
		}
		m := float64(sumMin(x, y))
		return ratio(m, float64(x.Total()+y.Total())-m), nil
	default:
		return 0, incompatible(a, b)
	}
}

func (t Tanimoto) BulkCompare(fp Fingerprint, others []Fingerprint) ([]float64, error) {
	// Hoist the probe popcount out of the loop for the common bit case.
	if x, ok := fp.(*BitVector); ok {
		xc := x.Count()
		out := make([]float64, len(others))
		for i, o := range others {
			y, ok := o.(*BitVector)
			if !ok || y.n != x.n {
				return nil, incompatible(fp, o)
			}
			both := float64(intersectCount(x, y))
			out[i] = ratio(both, float64(xc+y.Count())-both)
		}
		return out, nil
	}
	return bulk(t.Compare, fp, others)
}

// ─────────────────────────────────────────────────────────────────────────────
// Dice
// ─────────────────────────────────────────────────────────────────────────────

// Dice is 2|a∩b| / (|a|+|b|) on bit vectors and 2Σmin / (Σa + Σb) on count
// vectors.
type Dice struct{}

func (Dice) Name() string { return MetricDice }

func (Dice) Compare(a, b Fingerprint) (float64, error) {
	switch x := a.(type) {
	case *BitVector:
		y, ok := b.(*BitVector)
		if !ok || x.n != y.n {
			return 0, incompatible(a, b)
		}
		return ratio(2*float64(intersectCount(x, y)), float64(x.Count()+y.Count())), nil
	case *CountVector:
		y, ok := b.(*CountVector)
		if !ok || x.size != y.size {
			return 0, incompatible(a, b)
		}
		return ratio(2*float64(sumMin(x, y)), float64(x.Total()+y.Total())), nil
	default:
		return 0, incompatible(a, b)
	}
}

func (d Dice) BulkCompare(fp Fingerprint, others []Fingerprint) ([]float64, error) {
	if x, ok := fp.(*CountVector); ok {
		xt := x.Total()
		out := make([]float64, len(others))
		for i, o := range others {
			y, ok := o.(*CountVector)
			if !ok || y.size != x.size {
				return nil, incompatible(fp, o)
			}
			out[i] = ratio(2*float64(sumMin(x, y)), float64(xt+y.Total()))
		}
		return out, nil
	}
	return bulk(d.Compare, fp, others)
}

// ─────────────────────────────────────────────────────────────────────────────
// FoldedTanimoto
// ─────────────────────────────────────────────────────────────────────────────

// FoldedTanimoto is Tanimoto on bit vectors after folding the longer operand
// down to the length of the shorter one.  It only offers the pairwise form.
type FoldedTanimoto struct{}

func (FoldedTanimoto) Name() string { return MetricFingerprint }

func (FoldedTanimoto) Compare(a, b Fingerprint) (float64, error) {
	x, ok1 := a.(*BitVector)
	y, ok2 := b.(*BitVector)
	if !ok1 || !ok2 || x.n == 0 || y.n == 0 {
		return 0, incompatible(a, b)
	}
	switch {
	case x.n > y.n:
		x = x.Fold(y.n)
	case y.n > x.n:
		y = y.Fold(x.n)
	}
	return Tanimoto{}.Compare(x, y)
}
