package tokenaccount

import (
	"testing"

	"github.com/Lumen-Labs/brainapi2/internal/kg"
)

func TestFromCounts(t *testing.T) {
	d := FromCounts(100, 50, 20, 10)
	if d.Input.Total != 100 || d.Input.Uncached != 80 || d.Input.Cached != 20 {
		t.Fatalf("unexpected input detail: %+v", d.Input)
	}
	if d.Input.CachePercentage != 20 {
		t.Fatalf("expected 20%% cache, got %v", d.Input.CachePercentage)
	}
	if d.Output.Total != 50 || d.Output.Regular != 40 || d.Output.Reasoning != 10 {
		t.Fatalf("unexpected output detail: %+v", d.Output)
	}
	if d.GrandTotal != 150 {
		t.Fatalf("expected grand total 150, got %d", d.GrandTotal)
	}
	if d.EffectiveTotal != 130 {
		t.Fatalf("expected effective total 130, got %d", d.EffectiveTotal)
	}
}

func TestFromCountsZeroDenominators(t *testing.T) {
	d := FromCounts(0, 0, 0, 0)
	if d.Input.CachePercentage != 0 || d.Output.ReasoningPercentage != 0 {
		t.Fatalf("expected zero percentages on zero denominators, got %+v", d)
	}
}

func TestMergeIsIdentityWithZero(t *testing.T) {
	d := FromCounts(100, 50, 20, 10)
	merged := Merge([]kg.TokenDetail{d, {}})
	if merged != d {
		t.Fatalf("merging with zero element changed the detail: got %+v want %+v", merged, d)
	}
}

func TestMergeAssociativeAndCommutative(t *testing.T) {
	a := FromCounts(100, 50, 20, 10)
	b := FromCounts(30, 15, 5, 2)
	c := FromCounts(7, 3, 1, 1)

	left := Merge([]kg.TokenDetail{Merge([]kg.TokenDetail{a, b}), c})
	right := Merge([]kg.TokenDetail{a, Merge([]kg.TokenDetail{b, c})})
	if left != right {
		t.Fatalf("merge not associative: %+v vs %+v", left, right)
	}

	ab := Merge([]kg.TokenDetail{a, b})
	ba := Merge([]kg.TokenDetail{b, a})
	if ab != ba {
		t.Fatalf("merge not commutative: %+v vs %+v", ab, ba)
	}
}
