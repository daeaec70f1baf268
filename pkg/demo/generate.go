// Package demo seeds the platform with synthetic data: a fixed set of
// advisory issues and random-walk long-term statistics. It exists so
// dashboards, energy views, and statistics tooling can be exercised
// without any live hardware behind them.
package demo

import (
	"time"

	"github.com/vjranagit/hearth/pkg/types"
)

// Rand is the source of randomness for the generators. *math/rand.Rand
// satisfies it; tests inject fixed sources to get reproducible series.
type Rand interface {
	Float64() float64
}

// MeanStatistics generates one mean/min/max row per hour in [start, end).
// The mean performs a random walk from initValue with steps in
// [-maxDiff/2, maxDiff/2); min and max are drawn up to maxDiff below and
// above the walked mean. Three draws are consumed per row: the mean
// step, the min offset, the max offset, in that order.
func MeanStatistics(rnd Rand, start, end time.Time, initValue, maxDiff float64) []types.Point {
	var points []types.Point

	mean := initValue
	for t := start; t.Before(end); t = t.Add(time.Hour) {
		mean = mean + rnd.Float64()*maxDiff - maxDiff/2
		min := mean - rnd.Float64()*maxDiff
		max := mean + rnd.Float64()*maxDiff

		points = append(points, types.Point{
			Start: t,
			Mean:  types.Float64(mean),
			Min:   types.Float64(min),
			Max:   types.Float64(max),
		})
	}
	return points
}

// SumStatistics generates one cumulative-sum row per hour in
// [start, end), continuing the series from lastSum. Every hour adds a
// step in [0, maxDiff), so the sequence never decreases for
// non-negative maxDiff.
func SumStatistics(rnd Rand, start, end time.Time, lastSum, maxDiff float64) []types.Point {
	var points []types.Point

	sum := lastSum
	for t := start; t.Before(end); t = t.Add(time.Hour) {
		sum += rnd.Float64() * maxDiff
		points = append(points, types.Point{
			Start: t,
			Sum:   types.Float64(sum),
		})
	}
	return points
}
