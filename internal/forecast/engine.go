package forecast

import (
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"stokku/backend/internal/domain"
)

const (
	financialHorizon   = 5
	productHorizon     = 4
	financialAvgWindow = 5
	financialMinPoints = 2
	productMinPoints   = 1

	// Projected values vary uniformly within ±20% of the historical average.
	varianceSpread = 0.4
)

// RandomSource supplies the forecast variance. Production uses a time-seeded
// PCG; tests inject a fixed source to pin exact projected values.
type RandomSource interface {
	Float64() float64
}

type Engine struct {
	rng RandomSource
}

func NewEngine(src RandomSource) *Engine {
	if src == nil {
		src = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed))
	}
	return &Engine{rng: src}
}

// FinancialSeries buckets invoice totals of the given type by calendar day
// and appends a five-day projection after the last historical point. The
// average feeding the projection uses only the last five historical points.
func (e *Engine) FinancialSeries(invoices []domain.Invoice, invoiceType string, window domain.SeriesWindow, now time.Time) []domain.SeriesPoint {
	buckets := make(map[time.Time]int64)
	for _, invoice := range invoices {
		if invoice.Type != invoiceType {
			continue
		}
		buckets[dateOnly(invoice.Date)] += invoice.TotalCents
	}
	return e.project(buckets, window, now, financialMinPoints, financialAvgWindow, financialHorizon)
}

// ProductSeries buckets sold quantity of one product by calendar day and
// appends a four-day projection averaged over all historical points in the
// window.
func (e *Engine) ProductSeries(invoices []domain.Invoice, productID string, window domain.SeriesWindow, now time.Time) []domain.SeriesPoint {
	buckets := make(map[time.Time]int64)
	for _, invoice := range invoices {
		if invoice.Type != domain.InvoiceTypeSale {
			continue
		}
		for _, item := range invoice.Items {
			if item.ProductID != productID {
				continue
			}
			buckets[dateOnly(invoice.Date)] += int64(item.Qty)
		}
	}
	return e.project(buckets, window, now, productMinPoints, 0, productHorizon)
}

// project turns per-day buckets into a date-ordered series: historical points
// first, then the join point carrying both values, then horizon synthetic
// future days. avgWindow <= 0 averages over every filtered point.
func (e *Engine) project(buckets map[time.Time]int64, window domain.SeriesWindow, now time.Time, minPoints int, avgWindow int, horizon int) []domain.SeriesPoint {
	cutoff := dateOnly(now).AddDate(0, 0, -window.Days())

	dates := make([]time.Time, 0, len(buckets))
	for date := range buckets {
		if date.Before(cutoff) {
			continue
		}
		dates = append(dates, date)
	}
	slices.SortFunc(dates, func(a, b time.Time) int { return a.Compare(b) })

	points := make([]domain.SeriesPoint, 0, len(dates)+horizon)
	for _, date := range dates {
		value := buckets[date]
		points = append(points, domain.SeriesPoint{
			Date:  date.Format(time.DateOnly),
			Value: int64Ptr(value),
		})
	}
	if len(points) < minPoints {
		return points
	}

	span := len(dates)
	if avgWindow > 0 && span > avgWindow {
		span = avgWindow
	}
	sum := int64(0)
	for _, date := range dates[len(dates)-span:] {
		sum += buckets[date]
	}
	avg := float64(sum) / float64(span)

	// Join point: duplicate the last real value into the projected field so
	// the rendered line is continuous across the historical/forecast seam.
	last := len(points) - 1
	points[last].Projected = int64Ptr(*points[last].Value)

	lastDate := dates[len(dates)-1]
	for i := 1; i <= horizon; i++ {
		variance := (e.rng.Float64() - 0.5) * varianceSpread * avg
		value := avg + variance
		if value < 0 {
			value = 0
		}
		points = append(points, domain.SeriesPoint{
			Date:      lastDate.AddDate(0, 0, i).Format(time.DateOnly),
			Projected: int64Ptr(int64(math.Round(value))),
		})
	}
	return points
}

func int64Ptr(v int64) *int64 {
	return &v
}

func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
