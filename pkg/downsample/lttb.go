// Package downsample reduces dense time series to a chartable size while
// preserving their visual shape, using largest-triangle-three-buckets.
package downsample

import (
	"fmt"
	"math"

	"github.com/chartfeed/chartfeed/pkg/series"
)

// MinTarget is the smallest usable target count: the first and last points
// are fixed anchors, and at least one interior bucket is needed.
const MinTarget = 3

// LTTB reduces s to targetCount points, selecting from each interior bucket
// the point that forms the largest triangle with the previously selected
// point and the average of the next bucket. The first and last points are
// always kept. field names the numeric field charted on the y axis.
//
// A series already at or below targetCount is returned unchanged. A
// targetCount below MinTarget is caller misuse and returns an error.
// Output is deterministic for identical input.
func LTTB(s series.Series, targetCount int, field string) (series.Series, error) {
	if targetCount < MinTarget {
		return nil, fmt.Errorf("downsample: target count %d below minimum %d", targetCount, MinTarget)
	}
	n := len(s)
	if n == 0 {
		return series.Series{}, nil
	}
	if n <= targetCount {
		return s, nil
	}

	sampled := make(series.Series, 0, targetCount)
	sampled = append(sampled, s[0])

	// Interior points s[1:n-1] split across targetCount-2 index buckets.
	// Integer truncation leaves the remainder to the last bucket.
	every := float64(n-2) / float64(targetCount-2)

	a := 0 // index of the previously selected point
	for i := 0; i < targetCount-2; i++ {
		lo := int(float64(i)*every) + 1
		hi := int(float64(i+1)*every) + 1
		if i == targetCount-3 || hi > n-1 {
			hi = n - 1
		}

		// Average point of the next bucket; for the final interior bucket
		// that collapses to the last point.
		nextLo := hi
		nextHi := int(float64(i+2)*every) + 1
		if nextHi > n {
			nextHi = n
		}
		if nextLo >= nextHi {
			nextLo, nextHi = n-1, n
		}
		var avgX, avgY float64
		for j := nextLo; j < nextHi; j++ {
			avgX += xValue(s, j)
			avgY += s[j].Field(field)
		}
		count := float64(nextHi - nextLo)
		avgX /= count
		avgY /= count

		ax := xValue(s, a)
		ay := s[a].Field(field)

		maxArea := -1.0
		chosen := lo
		for j := lo; j < hi; j++ {
			// Twice the triangle area; the factor cancels in comparison.
			area := math.Abs((ax-avgX)*(s[j].Field(field)-ay) - (ax-xValue(s, j))*(avgY-ay))
			if area > maxArea {
				maxArea = area
				chosen = j
			}
		}

		sampled = append(sampled, s[chosen])
		a = chosen
	}

	sampled = append(sampled, s[n-1])
	return sampled, nil
}

// xValue is the x coordinate used for triangle areas: the timestamp in
// milliseconds, or the point index for category series without timestamps.
// Duplicate timestamps stay distinct points; bucketing is by index anyway.
func xValue(s series.Series, i int) float64 {
	if s[i].Timestamp.IsZero() {
		return float64(i)
	}
	return float64(s[i].Timestamp.UnixMilli())
}
