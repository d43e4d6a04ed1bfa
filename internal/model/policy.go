package model

// PolicyData is the partial aggregate buffered in the pending-merge cache
// keyed "userop:pending:{hash}" until all four cost fields are known.
type PolicyData struct {
	PolicyID       *string  `json:"policyId,omitempty"`
	NativeUSDPrice *string  `json:"nativeUsdPrice,omitempty"`
	ActualGasCost  *string  `json:"actualGasCost,omitempty"`
	ActualGasUsed  *string  `json:"actualGasUsed,omitempty"`
	Sender         *string  `json:"sender,omitempty"`
	EnabledLimits  []string `json:"enabledLimits,omitempty"`
}

// Merge overlays the non-nil fields of partial onto a copy of p and
// returns the result; nil fields in partial leave p's fields untouched.
func (p PolicyData) Merge(partial PolicyData) PolicyData {
	merged := p
	if partial.PolicyID != nil {
		merged.PolicyID = partial.PolicyID
	}
	if partial.NativeUSDPrice != nil {
		merged.NativeUSDPrice = partial.NativeUSDPrice
	}
	if partial.ActualGasCost != nil {
		merged.ActualGasCost = partial.ActualGasCost
	}
	if partial.ActualGasUsed != nil {
		merged.ActualGasUsed = partial.ActualGasUsed
	}
	if partial.Sender != nil {
		merged.Sender = partial.Sender
	}
	if partial.EnabledLimits != nil {
		merged.EnabledLimits = partial.EnabledLimits
	}
	return merged
}

// usesScope reports whether scope (e.g. "GLOBAL", "USER") is enabled.
func (p PolicyData) usesScope(scope string) bool {
	for _, s := range p.EnabledLimits {
		if s == scope {
			return true
		}
	}
	return false
}

// Complete reports whether all four cost fields required to finalize
// usage counters are present, and (when the USER scope is enabled) that
// sender is also present.
func (p PolicyData) Complete() bool {
	if p.PolicyID == nil || p.NativeUSDPrice == nil || p.ActualGasCost == nil || p.ActualGasUsed == nil {
		return false
	}
	if p.usesScope("USER") && p.Sender == nil {
		return false
	}
	return true
}
