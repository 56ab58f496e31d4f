package downsample

import (
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/chartfeed/chartfeed/pkg/series"
)

func makeSeries(n int, value func(i int) float64) series.Series {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s := make(series.Series, n)
	for i := 0; i < n; i++ {
		s[i] = series.Point{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Fields:    map[string]float64{"value": value(i)},
		}
	}
	return s
}

func TestLTTBIdentity(t *testing.T) {
	// Series at or below the target come back unchanged.
	for _, n := range []int{0, 1, 2, 50, 100} {
		s := makeSeries(n, func(i int) float64 { return float64(i) })
		out, err := LTTB(s, 100, "value")
		if err != nil {
			t.Fatalf("LTTB(%d points) error: %v", n, err)
		}
		if len(out) != n {
			t.Errorf("LTTB(%d points, target 100) = %d points, want unchanged", n, len(out))
		}
	}
}

func TestLTTBTargetTooSmall(t *testing.T) {
	s := makeSeries(10, func(i int) float64 { return float64(i) })
	for _, target := range []int{-1, 0, 1, 2} {
		if _, err := LTTB(s, target, "value"); err == nil {
			t.Errorf("LTTB(target=%d) succeeded, want error", target)
		}
	}
}

func TestLTTBLengthAndAnchors(t *testing.T) {
	tests := []struct {
		name   string
		n      int
		target int
	}{
		{"small reduction", 10, 5},
		{"minimum target", 100, 3},
		{"uneven buckets", 1000, 7},
		{"large series", 15000, 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := makeSeries(tt.n, func(i int) float64 {
				return math.Sin(float64(i) / 10)
			})
			out, err := LTTB(s, tt.target, "value")
			if err != nil {
				t.Fatalf("LTTB error: %v", err)
			}
			if len(out) != tt.target {
				t.Fatalf("got %d points, want %d", len(out), tt.target)
			}
			if !out[0].Timestamp.Equal(s[0].Timestamp) {
				t.Error("first point is not the original first point")
			}
			if !out[len(out)-1].Timestamp.Equal(s[len(s)-1].Timestamp) {
				t.Error("last point is not the original last point")
			}
		})
	}
}

func TestLTTBDeterministic(t *testing.T) {
	s := makeSeries(5000, func(i int) float64 {
		return math.Sin(float64(i)/7) * math.Cos(float64(i)/13) * 100
	})
	a, err := LTTB(s, 200, "value")
	if err != nil {
		t.Fatal(err)
	}
	b, err := LTTB(s, 200, "value")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Error("two runs over identical input differ")
	}
}

func TestLTTBKeepsExtremes(t *testing.T) {
	// A flat series with one spike: the spike must survive reduction.
	spikeAt := 2500
	s := makeSeries(5000, func(i int) float64 {
		if i == spikeAt {
			return 1000
		}
		return 10
	})
	out, err := LTTB(s, 100, "value")
	if err != nil {
		t.Fatal(err)
	}

	found := false
	for _, p := range out {
		if p.Field("value") == 1000 {
			found = true
			break
		}
	}
	if !found {
		t.Error("spike discarded by downsampling")
	}
}

func TestLTTBDuplicateTimestamps(t *testing.T) {
	// Duplicates are distinct points by index, never merged.
	ts := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s := make(series.Series, 100)
	for i := range s {
		s[i] = series.Point{Timestamp: ts, Fields: map[string]float64{"value": float64(i)}}
	}
	out, err := LTTB(s, 10, "value")
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 10 {
		t.Fatalf("got %d points, want 10", len(out))
	}
}

func TestLTTBEmpty(t *testing.T) {
	out, err := LTTB(series.Series{}, 10, "value")
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 0 {
		t.Errorf("empty input produced %d points", len(out))
	}
}
