package rules

import (
	"strings"

	"github.com/opensource-finance/sentinel/internal/domain"
)

// Policy holds the thresholds of the fixed rule set R0..R6.
// Evaluate is pure: no I/O, no clock, no shared state.
type Policy struct {
	ExtremeAmount        float64
	VeryHighAmount       float64
	NightAmount          float64
	NightStartHour       int // inclusive, UTC
	NightEndHour         int // inclusive, UTC
	RiskyMerchantAmount  float64
	RiskyMerchants       []string
	NonDefaultAmount     float64
	LowFrictionChannel   string
	CrossBorderAmount    float64
	HomeCountry          string
	ProfileOutlierFactor float64
}

// DefaultPolicy returns the production thresholds.
func DefaultPolicy() Policy {
	return Policy{
		ExtremeAmount:        500_000,
		VeryHighAmount:       50_000,
		NightAmount:          20_000,
		NightStartHour:       0,
		NightEndHour:         5,
		RiskyMerchantAmount:  10_000,
		RiskyMerchants:       []string{"crypto", "betting", "gambling", "casino", "binary options", "adult"},
		NonDefaultAmount:     30_000,
		LowFrictionChannel:   "UPI",
		CrossBorderAmount:    20_000,
		HomeCountry:          "india",
		ProfileOutlierFactor: 5,
	}
}

// PolicyFromConfig applies configured overrides onto the default policy.
func PolicyFromConfig(cfg domain.ScoringConfig) Policy {
	p := DefaultPolicy()
	if cfg.HomeCountry != "" {
		p.HomeCountry = cfg.HomeCountry
	}
	if cfg.LowFrictionChannel != "" {
		p.LowFrictionChannel = strings.ToUpper(cfg.LowFrictionChannel)
	}
	return p
}

// Evaluate runs the fixed rules against a transaction and a read-only profile snapshot.
// Missing optional fields never match and never error. A nil profile is treated as empty.
func (p Policy) Evaluate(tx *domain.Transaction, profile *domain.UserProfile) domain.RuleOutcome {
	amount := tx.AmountFloat()
	matched := make([]string, 0, 7)

	if amount >= p.ExtremeAmount {
		matched = append(matched, domain.RuleExtremeAmount)
	}
	if amount >= p.VeryHighAmount {
		matched = append(matched, domain.RuleVeryHighAmount)
	}

	if !tx.Timestamp.IsZero() {
		hour := tx.Timestamp.UTC().Hour()
		if hour >= p.NightStartHour && hour <= p.NightEndHour && amount >= p.NightAmount {
			matched = append(matched, domain.RuleNightHighAmount)
		}
	}

	if p.isRiskyMerchant(tx.MerchantCategory) && amount >= p.RiskyMerchantAmount {
		matched = append(matched, domain.RuleRiskyMerchant)
	}

	channel := strings.ToUpper(strings.TrimSpace(tx.Channel))
	if channel != "" && channel != p.LowFrictionChannel && amount >= p.NonDefaultAmount {
		matched = append(matched, domain.RuleNonDefaultChannel)
	}

	if country := tx.Country(); country != "" && !strings.EqualFold(country, p.HomeCountry) && amount >= p.CrossBorderAmount {
		matched = append(matched, domain.RuleCrossBorder)
	}

	if profile != nil {
		avg := profile.AmountStats.Avg
		if avg > 0 && amount > p.ProfileOutlierFactor*avg {
			matched = append(matched, domain.RuleProfileAmountOutlier)
		}
	}

	return domain.NewRuleOutcome(matched...)
}

func (p Policy) isRiskyMerchant(category string) bool {
	m := strings.ToLower(strings.TrimSpace(category))
	if m == "" {
		return false
	}
	for _, bad := range p.RiskyMerchants {
		if strings.Contains(m, bad) {
			return true
		}
	}
	return false
}
