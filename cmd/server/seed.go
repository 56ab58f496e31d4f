package main

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/chartfeed/chartfeed/pkg/series"
	"github.com/chartfeed/chartfeed/pkg/store"
)

// seed populates the demo datasets: hourly sales and KPI samples plus daily
// inventory levels across a handful of branches. Deterministic so restarts
// against a persistent store don't double-seed different shapes.
func seed(ctx context.Context, st store.Store, days int) error {
	rng := rand.New(rand.NewSource(42))
	end := time.Now().UTC().Truncate(time.Hour)
	start := end.AddDate(0, 0, -days)

	branches := []int{1, 2, 3}

	var sales, kpis, dashboard series.Series
	for ts := start; ts.Before(end); ts = ts.Add(time.Hour) {
		// Daily cycle with weekend lift and noise.
		base := 40 + 30*math.Sin(float64(ts.Hour())/24*2*math.Pi)
		if wd := ts.Weekday(); wd == time.Saturday || wd == time.Sunday {
			base *= 1.4
		}

		for _, branch := range branches {
			orders := math.Max(0, base*float64(branch)/2+rng.NormFloat64()*8)
			sales = append(sales, series.Point{
				Timestamp: ts,
				Fields: map[string]float64{
					"branch_id": float64(branch),
					"orders":    math.Round(orders),
					"total":     math.Round(orders*37.5*100) / 100,
				},
			})
		}

		kpis = append(kpis, series.Point{
			Timestamp: ts,
			Fields: map[string]float64{
				"value":           math.Round(base*float64(len(branches))/0.7*100) / 100,
				"active_sessions": math.Round(math.Max(0, base/2+rng.NormFloat64()*5)),
			},
		})

		dashboard = append(dashboard, series.Point{
			Timestamp: ts,
			Fields: map[string]float64{
				"value": math.Round((base + rng.NormFloat64()*4) * 100) / 100,
			},
		})
	}

	var inventory series.Series
	for day := start; day.Before(end); day = day.AddDate(0, 0, 1) {
		for _, branch := range branches {
			inventory = append(inventory, series.Point{
				Timestamp: day,
				Fields: map[string]float64{
					"branch_id": float64(branch),
					"on_hand":   math.Round(500 + 200*math.Sin(float64(day.YearDay())/14) + rng.NormFloat64()*20),
					"reserved":  math.Round(math.Max(0, 40+rng.NormFloat64()*10)),
				},
			})
		}
	}

	for dataset, pts := range map[string]series.Series{
		"sales":     sales,
		"kpis":      kpis,
		"inventory": inventory,
		"dashboard": dashboard,
	} {
		if err := st.Write(ctx, dataset, pts); err != nil {
			return err
		}
	}
	return nil
}
