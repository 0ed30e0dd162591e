package core

// alignment_merge.go implements a pure, deterministic reduction of several
// per-user rankings into a single consensus ranking, using
// github.com/montanaflynn/stats for the population-variance statistics
// rather than hand-rolling variance math.

import (
	"fmt"
	"math"
	"sort"

	"github.com/montanaflynn/stats"
)

// AlignmentMerge reduces rankings - each a slice of distinct positive
// integers drawn from a shared alphabet - into one consensus ranking,
// sorted ascending by score. Input order must not affect the result.
func AlignmentMerge(rankings [][]int) ([]int, error) {
	if len(rankings) == 0 {
		return nil, NewEngineError(KindInvalidInput, "alignment-merge requires at least one ranking")
	}
	if len(rankings) == 1 {
		out := make([]int, len(rankings[0]))
		copy(out, rankings[0])
		return out, nil
	}

	union := unionItems(rankings)
	u := len(union)
	if u == 0 {
		return nil, NewEngineError(KindInvalidInput, "alignment-merge rankings contain no items")
	}

	positions := make(map[int][]float64, u)
	for _, item := range union {
		positions[item] = make([]float64, 0, len(rankings))
	}
	for _, ranking := range rankings {
		l := len(ranking)
		offset := u - l
		pos := make(map[int]int, l)
		for i, item := range ranking {
			pos[item] = offset + i
		}
		for _, item := range union {
			if p, ok := pos[item]; ok {
				positions[item] = append(positions[item], float64(p))
			} else {
				positions[item] = append(positions[item], 0)
			}
		}
	}

	maxVarVec := maxVarianceVector(u)
	maxVariance, err := stats.PopulationVariance(maxVarVec)
	if err != nil {
		return nil, NewEngineErrorf(KindInvalidInput, "max variance: %v", err)
	}

	scores := make([]alignmentScore, 0, u)
	for _, item := range union {
		variance, err := stats.PopulationVariance(positions[item])
		if err != nil {
			return nil, NewEngineErrorf(KindInvalidInput, "variance for item %d: %v", item, err)
		}
		mean, err := stats.Mean(positions[item])
		if err != nil {
			return nil, NewEngineErrorf(KindInvalidInput, "mean for item %d: %v", item, err)
		}
		var alignment float64 = 1
		if maxVariance != 0 {
			alignment = 1 - variance/maxVariance
		}
		scores = append(scores, alignmentScore{item: item, score: mean * alignment, align: alignment})
	}

	seed := tieBreakSeed(scores)
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].score != scores[j].score {
			return scores[i].score < scores[j].score
		}
		li := fmt.Sprintf("%d", scores[i].item)
		lj := fmt.Sprintf("%d", scores[j].item)
		if seed%2 == 0 {
			return li < lj
		}
		return li > lj
	})

	out := make([]int, len(scores))
	for i, s := range scores {
		out[i] = s.item
	}
	return out, nil
}

type alignmentScore struct {
	item  int
	score float64
	align float64
}

func unionItems(rankings [][]int) []int {
	seen := make(map[int]struct{})
	for _, r := range rankings {
		for _, item := range r {
			seen[item] = struct{}{}
		}
	}
	out := make([]int, 0, len(seen))
	for item := range seen {
		out = append(out, item)
	}
	sort.Ints(out)
	return out
}

// maxVarianceVector builds the worst-case position vector: half zeros, half
// u-1, rounding the larger half up.
func maxVarianceVector(u int) []float64 {
	upper := (u + 1) / 2
	lower := u - upper
	vec := make([]float64, 0, u)
	for i := 0; i < lower; i++ {
		vec = append(vec, 0)
	}
	for i := 0; i < upper; i++ {
		vec = append(vec, float64(u-1))
	}
	return vec
}

// tieBreakSeed derives an integer seed by summing (alignment*100) truncated
// across items; its parity - not its magnitude - selects tie-break
// direction, so the result is stable regardless of input order.
func tieBreakSeed(scores []alignmentScore) int {
	sum := 0
	for _, s := range scores {
		sum += int(math.Trunc(s.align * 100))
	}
	return sum
}

//---------------------------------------------------------------------
// Pruning (applied by the evaluation engine before calling AlignmentMerge).
//---------------------------------------------------------------------

// PruneOutliers removes items that appear in fewer than
// ceil(2/3 * groupSize) of all attesters' proposals, drops proposals
// that become empty, and strips self-references (an attester's own index
// in their own proposal). It reports whether enough proposals remain to
// attempt consensus.
func PruneOutliers(rankingsByAttester map[int][]int, groupSize int) ([][]int, bool) {
	threshold := ceilDiv(2*groupSize, 3)

	counts := make(map[int]int)
	for attester, ranking := range rankingsByAttester {
		for _, item := range ranking {
			if item == attester {
				continue // self-reference stripped before counting
			}
			counts[item]++
		}
	}

	pruned := make([][]int, 0, len(rankingsByAttester))
	for attester, ranking := range rankingsByAttester {
		var kept []int
		for _, item := range ranking {
			if item == attester {
				continue
			}
			if counts[item] >= threshold {
				kept = append(kept, item)
			}
		}
		if len(kept) > 0 {
			pruned = append(pruned, kept)
		}
	}

	return pruned, len(pruned) >= threshold
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
