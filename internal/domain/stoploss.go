package domain

// StopLossMethod names the signal a stop-loss recommendation was derived from.
type StopLossMethod string

const (
	MethodATR               StopLossMethod = "atr"
	MethodSupportResistance StopLossMethod = "support_resistance"
	MethodFixed             StopLossMethod = "fixed"
)

// VolatilityLevel buckets ATR-percent.
type VolatilityLevel string

const (
	VolatilityLow    VolatilityLevel = "low"
	VolatilityMedium VolatilityLevel = "medium"
	VolatilityHigh   VolatilityLevel = "high"
)

// StopLossResult is a transient stop-loss recommendation, recomputed on every call.
type StopLossResult struct {
	StopLossPrice float64
	// StopLossDistancePercent is pure price movement from the anchor price,
	// leverage excluded. Multiply by leverage for the account-level loss.
	StopLossDistancePercent float64
	Method                  StopLossMethod
	Details                 StopLossDetails
	QualityScore            int // 0-100
	RiskAssessment          RiskAssessment
}

// StopLossDetails carries the raw signals behind a recommendation.
type StopLossDetails struct {
	ATR             *float64
	ATRPercent      *float64
	SupportLevel    *float64
	ResistanceLevel *float64

	RawDistancePercent float64 // Selected distance before clamping
	Clamped            bool    // Whether the min/max bounds changed the distance
}

// RiskAssessment describes the market conditions around a recommendation.
type RiskAssessment struct {
	VolatilityLevel VolatilityLevel
	IsNoisy         bool
	Recommendation  string
}
