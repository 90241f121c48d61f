package domain

import "time"

// Fixed rule identifiers, in evaluation order.
const (
	RuleExtremeAmount        = "R0_EXTREME_AMOUNT"
	RuleVeryHighAmount       = "R1_VERY_HIGH_AMOUNT"
	RuleNightHighAmount      = "R2_NIGHT_HIGH_AMOUNT"
	RuleRiskyMerchant        = "R3_RISKY_MERCHANT"
	RuleNonDefaultChannel    = "R4_NON_UPI_HIGH_AMOUNT"
	RuleCrossBorder          = "R5_CROSS_BORDER"
	RuleProfileAmountOutlier = "R6_5X_ABOVE_AVG_PROFILE_AMOUNT"
)

// RuleConfig defines an operator-supplied rule expressed in CEL.
// Its ID is appended to the rule outcome when the expression evaluates to true.
type RuleConfig struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL expression to evaluate; must return bool.
	Expression string `json:"expression"`

	// Whether rule is active
	Enabled bool `json:"enabled"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}
