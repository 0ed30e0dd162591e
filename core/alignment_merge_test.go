package core

import (
	"reflect"
	"testing"
)

func TestAlignmentMergeSingleInputUnchanged(t *testing.T) {
	in := []int{2, 3, 4}
	out, err := AlignmentMerge([][]int{in})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("expected %v unchanged, got %v", in, out)
	}
}

func TestAlignmentMergeBasicThreeMemberConsensus(t *testing.T) {
	out, err := AlignmentMerge([][]int{
		{2, 3, 4},
		{2, 3, 4},
		{3, 2, 4},
	})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if !reflect.DeepEqual(out, []int{2, 3, 4}) {
		t.Fatalf("expected [2 3 4], got %v", out)
	}
}

func TestAlignmentMergePermutationInvariant(t *testing.T) {
	a, err := AlignmentMerge([][]int{{1, 2, 3}, {2, 1, 3}, {1, 3, 2}})
	if err != nil {
		t.Fatalf("merge a: %v", err)
	}
	b, err := AlignmentMerge([][]int{{1, 3, 2}, {1, 2, 3}, {2, 1, 3}})
	if err != nil {
		t.Fatalf("merge b: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("expected permutation-invariant result, got %v vs %v", a, b)
	}
}

func TestAlignmentMergeContainsEveryItemOnce(t *testing.T) {
	out, err := AlignmentMerge([][]int{{1, 2, 3}, {4, 2, 1}, {3, 4, 2}})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	seen := make(map[int]int)
	for _, v := range out {
		seen[v]++
	}
	for item, count := range seen {
		if count != 1 {
			t.Fatalf("item %d appeared %d times", item, count)
		}
	}
	if len(out) != 4 {
		t.Fatalf("expected 4 items in union, got %d: %v", len(out), out)
	}
}

func TestPruneOutliersDropsRareItem(t *testing.T) {
	pruned, ok := PruneOutliers(map[int][]int{
		1: {1, 2, 3, 4, 5},
		2: {1, 2, 3, 4, 5},
		3: {1, 2, 3, 4, 5, 6},
	}, 3)
	if !ok {
		t.Fatalf("expected enough proposals to remain")
	}
	for _, ranking := range pruned {
		for _, item := range ranking {
			if item == 6 {
				t.Fatalf("expected item 6 pruned as an outlier, got %v", ranking)
			}
		}
	}
}

func TestPruneOutliersInsufficientAfterPrune(t *testing.T) {
	_, ok := PruneOutliers(map[int][]int{
		1: {1, 2},
		2: {1, 2},
	}, 4)
	if ok {
		t.Fatalf("expected insufficient proposals for a group of 4 with only 2 attesters")
	}
}
