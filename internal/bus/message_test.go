package bus

import (
	"testing"

	"github.com/paymaster-labs/pm-indexer/internal/model"
)

func TestDecodeCanonicalizesHash(t *testing.T) {
	payload := []byte(`{
		"userOpHash": "0xABCDEF",
		"chainId": 8453,
		"status": "Eligible",
		"timestamp": "2026-01-01T00:00:00Z",
		"userOp": {"sender": "0xSender"}
	}`)

	msg, err := Decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.UserOpHash != "0xabcdef" {
		t.Errorf("hash = %q, want lowercased", msg.UserOpHash)
	}
}

func TestPolicyPartialRequiresSponsorshipAndPolicyID(t *testing.T) {
	policyID := "P1"
	price := "1.5"
	sponsorship := "SponsorshipPrepaid"

	withPolicy := Message{PaymasterMode: &sponsorship, PolicyID: &policyID, NativeUSDPrice: &price}
	partial, ok := withPolicy.PolicyPartial()
	if !ok {
		t.Fatalf("expected a partial when sponsorship mode + policyId present")
	}
	if partial.PolicyID == nil || *partial.PolicyID != policyID {
		t.Errorf("policyId = %v, want %s", partial.PolicyID, policyID)
	}

	noPolicy := Message{PaymasterMode: &sponsorship}
	if _, ok := noPolicy.PolicyPartial(); ok {
		t.Errorf("expected no partial without policyId")
	}

	tokenMode := "TOKEN"
	notSponsorship := Message{PaymasterMode: &tokenMode, PolicyID: &policyID}
	if _, ok := notSponsorship.PolicyPartial(); ok {
		t.Errorf("expected no partial for non-sponsorship paymaster mode")
	}
}

func TestPolicyPartialExtractsSenderFromUserOp(t *testing.T) {
	policyID := "P2"
	legacy := "SPONSORSHIP"
	msg := Message{
		PaymasterMode: &legacy,
		PolicyID:      &policyID,
		UserOp:        []byte(`{"sender": "0xSenderAddr"}`),
	}

	partial, ok := msg.PolicyPartial()
	if !ok {
		t.Fatalf("expected a partial for legacy SPONSORSHIP mode")
	}
	if partial.Sender == nil || *partial.Sender != "0xSenderAddr" {
		t.Errorf("sender = %v, want 0xSenderAddr", partial.Sender)
	}
}

func TestToFactParsesStatusAndChainID(t *testing.T) {
	payload := []byte(`{
		"userOpHash": "0xHASH",
		"chainId": 137,
		"status": "success",
		"timestamp": "2026-02-02T12:00:00Z"
	}`)
	msg, err := Decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	fact := msg.ToFact()
	if fact.ChainID != 137 {
		t.Errorf("chainId = %d, want 137", fact.ChainID)
	}
	if fact.Status != model.StatusSuccess {
		t.Errorf("status = %s, want Success", fact.Status)
	}
}

func TestToFactFallsBackOnUnparsableTimestamp(t *testing.T) {
	msg := Message{UserOpHash: "0xhash", ChainID: "1", Status: "Unknown", Timestamp: "not-a-timestamp"}
	fact := msg.ToFact()
	if fact.Time.IsZero() {
		t.Errorf("expected a fallback timestamp, got zero value")
	}
}
