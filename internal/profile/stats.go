package profile

import (
	"math"

	"github.com/opensource-finance/sentinel/internal/domain"
	"github.com/shopspring/decimal"
)

// Trust score weights.
const (
	trustAvgRiskWeight   = 0.3
	trustHighRatioWeight = 0.4
)

// applyAmount appends amount to the bounded window and recomputes the window stats.
func applyAmount(stats *domain.AmountStats, amount float64) {
	window := append(stats.LastN, amount)
	if len(window) > domain.AmountWindowSize {
		window = window[len(window)-domain.AmountWindowSize:]
	}
	// Copy so the slice never aliases a caller-held backing array.
	stats.LastN = append([]float64(nil), window...)

	// Window stats are exact so a constant window has a std of exactly zero.
	n := decimal.NewFromInt(int64(len(stats.LastN)))
	values := make([]decimal.Decimal, len(stats.LastN))
	sum := decimal.Zero
	minV, maxV := math.Inf(1), math.Inf(-1)
	for i, v := range stats.LastN {
		values[i] = decimal.NewFromFloat(v)
		sum = sum.Add(values[i])
		minV = math.Min(minV, v)
		maxV = math.Max(maxV, v)
	}
	avg := sum.Div(n)

	sq := decimal.Zero
	for _, v := range values {
		d := v.Sub(avg)
		sq = sq.Add(d.Mul(d))
	}

	stats.Avg = avg.InexactFloat64()
	stats.Std = math.Sqrt(sq.Div(n).InexactFloat64()) // population
	stats.Min = minV
	stats.Max = maxV
}

// applyRisk folds one final risk score into the unbounded running stats.
func applyRisk(stats *domain.RiskStats, finalRisk float64) {
	stats.TotalTxnCount++
	n := float64(stats.TotalTxnCount)
	stats.AvgRiskScore = (stats.AvgRiskScore*(n-1) + finalRisk) / n
	if stats.TotalTxnCount == 1 || finalRisk > stats.MaxRiskScore {
		stats.MaxRiskScore = finalRisk
	}
	if finalRisk >= domain.HighRiskThreshold {
		stats.HighRiskTxnCount++
	}
}

// TrustScore derives trust from risk history alone.
func TrustScore(stats domain.RiskStats) float64 {
	if stats.TotalTxnCount == 0 {
		return domain.DefaultTrustScore
	}
	highRatio := float64(stats.HighRiskTxnCount) / float64(stats.TotalTxnCount)
	trust := 100 - trustAvgRiskWeight*stats.AvgRiskScore - trustHighRatioWeight*highRatio*100
	return math.Max(0, math.Min(trust, 100))
}

// Apply returns a copy of p with one transaction folded in. p is not modified.
func Apply(p *domain.UserProfile, amount, finalRisk float64) *domain.UserProfile {
	next := p.Clone()
	applyAmount(&next.AmountStats, amount)
	applyRisk(&next.RiskStats, finalRisk)
	next.TrustScore = TrustScore(next.RiskStats)
	next.Version++
	return next
}
