package model

import (
	"encoding/json"
	"strings"
	"time"
)

// UserOpFact is the canonical merged record for one (chainID, userOpHash)
// pair. Both the bus message source and the log fusion processor build one
// of these before handing it to the storage writer.
type UserOpFact struct {
	UserOpHash string
	ChainID    uint64
	Time       time.Time
	Status     Status
	PaymasterMode PaymasterMode
	DataSource string

	OrgID        *string
	CredentialID *string
	PaymasterID  *string
	PolicyID     *string
	FundType     *string

	TokenAddress *string

	ActualGasCost  *int64
	ActualGasUsed  *int64
	DeductedUser   *string
	DeductedAmount *string
	NativeUSDPrice *string
	USDAmount      *string

	Token         *string
	TokenCharge   *string
	AppliedMarkup *string
	ExchangeRate  *string
	Premium       *string

	UserOperation json.RawMessage
	Metadata      map[string]any

	EnabledLimits []string
}

// CanonicalizeHash lowercases and trims a user-op hash, per the invariant
// that all reads/writes key off the canonical form.
func CanonicalizeHash(hash string) string {
	return strings.ToLower(strings.TrimSpace(hash))
}

// AccountDeployed reports whether the embedded user operation carries a
// non-empty, non-"0x" factory or factoryData field.
func AccountDeployed(userOp json.RawMessage) bool {
	if len(userOp) == 0 {
		return false
	}
	var fields struct {
		Factory     string `json:"factory"`
		FactoryData string `json:"factoryData"`
	}
	if err := json.Unmarshal(userOp, &fields); err != nil {
		return false
	}
	nonEmpty := func(s string) bool { return s != "" && s != "0x" }
	return nonEmpty(fields.Factory) || nonEmpty(fields.FactoryData)
}

// MergeMetadata overlays incoming key-by-key onto existing; it never
// replaces the map wholesale and never deep-merges nested objects,
// matching the Postgres `||` top-level overlay the original source relies on.
func MergeMetadata(existing, incoming map[string]any) map[string]any {
	if existing == nil && incoming == nil {
		return nil
	}
	merged := make(map[string]any, len(existing)+len(incoming))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range incoming {
		merged[k] = v
	}
	return merged
}
