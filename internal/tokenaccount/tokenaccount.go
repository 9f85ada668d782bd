// Package tokenaccount implements TokenDetail as a pure monoid: Merge sums
// leaf counters and recomputes percentages, and is associative and
// commutative with the zero TokenDetail as identity.
package tokenaccount

import "github.com/Lumen-Labs/brainapi2/internal/kg"

// FromCounts builds a TokenDetail from the four raw counters an agent
// accumulates across a run (input/output/cached/reasoning).
func FromCounts(inputTokens, outputTokens, cachedTokens, reasoningTokens int) kg.TokenDetail {
	var cachePct float64
	if inputTokens > 0 {
		cachePct = float64(cachedTokens) / float64(inputTokens) * 100
	}
	var reasoningPct float64
	if outputTokens > 0 {
		reasoningPct = float64(reasoningTokens) / float64(outputTokens) * 100
	}
	return kg.TokenDetail{
		Input: kg.TokenInputDetail{
			Total:           inputTokens,
			Uncached:        inputTokens - cachedTokens,
			Cached:          cachedTokens,
			CachePercentage: cachePct,
		},
		Output: kg.TokenOutputDetail{
			Total:               outputTokens,
			Regular:             outputTokens - reasoningTokens,
			Reasoning:           reasoningTokens,
			ReasoningPercentage: reasoningPct,
		},
		GrandTotal:     inputTokens + outputTokens,
		EffectiveTotal: inputTokens - cachedTokens + outputTokens,
	}
}

// Merge combines a set of TokenDetails into one, summing every leaf counter
// and recomputing the derived percentages. Merge(nil) and Merge of all-zero
// details both return the zero TokenDetail, which acts as the identity
// element: merging it with any detail returns that detail unchanged.
func Merge(details []kg.TokenDetail) kg.TokenDetail {
	var totalInput, totalUncached, totalCached int
	var totalOutput, totalRegular, totalReasoning int
	var grandTotal, effectiveTotal int

	for _, d := range details {
		totalInput += d.Input.Total
		totalUncached += d.Input.Uncached
		totalCached += d.Input.Cached
		totalOutput += d.Output.Total
		totalRegular += d.Output.Regular
		totalReasoning += d.Output.Reasoning
		grandTotal += d.GrandTotal
		effectiveTotal += d.EffectiveTotal
	}

	var cachePct float64
	if totalInput > 0 {
		cachePct = float64(totalCached) / float64(totalInput) * 100
	}
	var reasoningPct float64
	if totalOutput > 0 {
		reasoningPct = float64(totalReasoning) / float64(totalOutput) * 100
	}

	return kg.TokenDetail{
		Input: kg.TokenInputDetail{
			Total:           totalInput,
			Uncached:        totalUncached,
			Cached:          totalCached,
			CachePercentage: cachePct,
		},
		Output: kg.TokenOutputDetail{
			Total:               totalOutput,
			Regular:             totalRegular,
			Reasoning:           totalReasoning,
			ReasoningPercentage: reasoningPct,
		},
		GrandTotal:     grandTotal,
		EffectiveTotal: effectiveTotal,
	}
}
