package retriever

import (
	"math"
	"sort"

	"github.com/statline-ai/statline/pkg/models"
)

// Allocate splits budget across source types in proportion to weights using
// the largest-remainder method, so the counts always add up to budget.
// Weights need not sum to one. Equal remainders go to the type with the
// larger weight, then to the type that comes first in models.SourceTypes.
// Unknown types and non-positive weights receive nothing.
func Allocate(budget int, weights map[models.SourceType]float64) map[models.SourceType]int {
	out := make(map[models.SourceType]int, len(models.SourceTypes))
	for _, st := range models.SourceTypes {
		out[st] = 0
	}

	var sum float64
	for _, st := range models.SourceTypes {
		if w := weights[st]; w > 0 {
			sum += w
		}
	}
	if budget <= 0 || sum <= 0 {
		return out
	}

	type share struct {
		st        models.SourceType
		weight    float64
		remainder float64
	}
	var shares []share
	given := 0
	for _, st := range models.SourceTypes {
		w := weights[st]
		if w <= 0 {
			continue
		}
		quota := float64(budget) * w / sum
		whole := math.Floor(quota)
		out[st] = int(whole)
		given += int(whole)
		shares = append(shares, share{st: st, weight: w, remainder: quota - whole})
	}

	sort.SliceStable(shares, func(i, j int) bool {
		a, b := shares[i], shares[j]
		if a.remainder != b.remainder {
			return a.remainder > b.remainder
		}
		if a.weight != b.weight {
			return a.weight > b.weight
		}
		return models.SourceRank(a.st) < models.SourceRank(b.st)
	})
	for i := 0; given < budget; i = (i + 1) % len(shares) {
		out[shares[i].st]++
		given++
	}
	return out
}

// mergeOrder lists source types by allocation rank, largest first, breaking ties
// the same way Allocate does.
func mergeOrder(alloc map[models.SourceType]int, weights map[models.SourceType]float64) []models.SourceType {
	order := append([]models.SourceType(nil), models.SourceTypes...)
	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if alloc[a] != alloc[b] {
			return alloc[a] > alloc[b]
		}
		if weights[a] != weights[b] {
			return weights[a] > weights[b]
		}
		return models.SourceRank(a) < models.SourceRank(b)
	})
	return order
}
