package aggregator

import (
	"math"
	"sort"
	"strconv"

	"github.com/kurihiro0119/github-lab-harvester/internal/domain"
)

// Describe computes count, mean, sample standard deviation, min, quartiles (linear
// interpolation) and max. An empty input yields the zero Summary.
func Describe(values []float64) domain.Summary {
	n := len(values)
	if n == 0 {
		return domain.Summary{}
	}

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(n)

	var std float64
	if n > 1 {
		var sq float64
		for _, v := range sorted {
			sq += (v - mean) * (v - mean)
		}
		std = math.Sqrt(sq / float64(n-1))
	}

	return domain.Summary{
		Count:  n,
		Mean:   mean,
		Std:    std,
		Min:    sorted[0],
		P25:    quantile(sorted, 0.25),
		Median: quantile(sorted, 0.5),
		P75:    quantile(sorted, 0.75),
		Max:    sorted[n-1],
	}
}

// quantile interpolates linearly between the closest ranks of sorted
func quantile(sorted []float64, q float64) float64 {
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}

// column extracts one numeric value from a record
type column[T any] struct {
	name  string
	value func(T) float64
}

// describeBy groups records by key and describes every column within each group. Groups
// are ordered numerically when every key is a number, alphabetically otherwise.
func describeBy[T any](records []T, key func(T) string, columns []column[T]) []domain.GroupSummary {
	groups := map[string][]T{}
	for _, r := range records {
		k := key(r)
		groups[k] = append(groups[k], r)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sortGroupKeys(keys)

	var out []domain.GroupSummary
	for _, k := range keys {
		for _, col := range columns {
			values := make([]float64, len(groups[k]))
			for i, r := range groups[k] {
				values[i] = col.value(r)
			}
			out = append(out, domain.GroupSummary{Group: k, Column: col.name, Summary: Describe(values)})
		}
	}
	return out
}

// all is the group label of ungrouped questions
const all = "all"

// describeAll describes every column over the whole dataset. An empty dataset still
// yields one zero-count row per column.
func describeAll[T any](records []T, columns []column[T]) []domain.GroupSummary {
	out := make([]domain.GroupSummary, 0, len(columns))
	for _, col := range columns {
		values := make([]float64, len(records))
		for i, r := range records {
			values[i] = col.value(r)
		}
		out = append(out, domain.GroupSummary{Group: all, Column: col.name, Summary: Describe(values)})
	}
	return out
}

func sortGroupKeys(keys []string) {
	numeric := true
	for _, k := range keys {
		if _, err := strconv.ParseFloat(k, 64); err != nil {
			numeric = false
			break
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if numeric {
			a, _ := strconv.ParseFloat(keys[i], 64)
			b, _ := strconv.ParseFloat(keys[j], 64)
			return a < b
		}
		return keys[i] < keys[j]
	})
}
