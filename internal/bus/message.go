// Package bus consumes the lifecycle message bus: one topic of camelCase
// JSON UserOpMessage records, each carrying whatever stage-specific fields
// its producer knew at publish time.
package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/paymaster-labs/pm-indexer/internal/model"
)

// Message is the wire shape of one lifecycle bus record.
type Message struct {
	OrgID          *string         `json:"orgId"`
	CredentialID   *string         `json:"credentialId"`
	ProjectID      *string         `json:"projectId"`
	PaymasterMode  *string         `json:"paymasterMode"`
	PaymasterID    *string         `json:"paymasterId"`
	PolicyID       *string         `json:"policyId"`
	TokenAddress   *string         `json:"tokenAddress"`
	FundType       *string         `json:"fundType"`
	ChainID        json.Number     `json:"chainId"`
	Status         string          `json:"status"`
	DataSource     *string         `json:"dataSource"`
	Timestamp      string          `json:"timestamp"`
	UserOp         json.RawMessage `json:"userOp"`
	MetaData       map[string]any  `json:"metaData"`
	NativeUSDPrice *string         `json:"nativeUsdPrice"`
	UserOpHash     string          `json:"userOpHash"`
	EnabledLimits  []string        `json:"enabledLimits"`
}

// Decode parses one bus record, canonicalizing the user-op hash to lowercase
// per the indexer-wide invariant that all keys are compared in canonical form.
func Decode(payload []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return Message{}, fmt.Errorf("bus: decode message: %w", err)
	}
	m.UserOpHash = model.CanonicalizeHash(m.UserOpHash)
	return m, nil
}

// sender extracts userOp.sender for the policy-data partial, returning ""
// if the embedded user operation has no sender field.
func (m Message) sender() string {
	if len(m.UserOp) == 0 {
		return ""
	}
	var fields struct {
		Sender string `json:"sender"`
	}
	if err := json.Unmarshal(m.UserOp, &fields); err != nil {
		return ""
	}
	return fields.Sender
}

// usesSponsorship reports whether this message's paymaster mode (current or
// the legacy "SPONSORSHIP" value) is a sponsorship variant.
func (m Message) usesSponsorship() bool {
	if m.PaymasterMode == nil {
		return false
	}
	return model.ParsePaymasterMode(*m.PaymasterMode).IsSponsorship()
}

// PolicyPartial builds the partial PolicyData to submit to the Merge
// Coordinator, and reports whether one should be submitted at all (only
// when paymasterMode is a sponsorship variant and policyId is present, per
// spec.md §4.4).
func (m Message) PolicyPartial() (model.PolicyData, bool) {
	if !m.usesSponsorship() || m.PolicyID == nil {
		return model.PolicyData{}, false
	}
	partial := model.PolicyData{
		PolicyID:       m.PolicyID,
		NativeUSDPrice: m.NativeUSDPrice,
		EnabledLimits:  m.EnabledLimits,
	}
	if sender := m.sender(); sender != "" {
		partial.Sender = &sender
	}
	return partial, true
}

// ToFact converts the bus message into the canonical UserOpFact the storage
// writer upserts. Parse failures for timestamp/chainId fall back to sane
// defaults rather than rejecting the whole message.
func (m Message) ToFact() model.UserOpFact {
	ts, err := time.Parse(time.RFC3339, m.Timestamp)
	if err != nil {
		ts = time.Now().UTC()
	}

	chainID, _ := m.ChainID.Int64()

	fact := model.UserOpFact{
		UserOpHash:    m.UserOpHash,
		ChainID:       uint64(chainID),
		Time:          ts,
		Status:        model.ParseStatus(m.Status),
		PaymasterMode: model.PaymasterModeUnknown,
		OrgID:         m.OrgID,
		CredentialID:  m.CredentialID,
		PaymasterID:   m.PaymasterID,
		PolicyID:      m.PolicyID,
		FundType:      m.FundType,
		TokenAddress:  m.TokenAddress,
		UserOperation: m.UserOp,
		Metadata:      m.MetaData,
		EnabledLimits: m.EnabledLimits,
	}
	if m.PaymasterMode != nil {
		fact.PaymasterMode = model.ParsePaymasterMode(*m.PaymasterMode)
	}
	if m.DataSource != nil {
		fact.DataSource = *m.DataSource
	}
	if m.NativeUSDPrice != nil {
		fact.NativeUSDPrice = m.NativeUSDPrice
	}
	return fact
}
