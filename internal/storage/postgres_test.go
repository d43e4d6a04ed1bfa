package storage

import (
	"testing"

	"github.com/paymaster-labs/pm-indexer/internal/model"
)

func TestMetadataStringExtractsKnownKey(t *testing.T) {
	metadata := map[string]any{"deductedUser": "0xabc"}
	got := metadataString(metadata, "deductedUser")
	if got == nil || *got != "0xabc" {
		t.Errorf("metadataString = %v, want 0xabc", got)
	}
}

func TestMetadataStringMissingOrWrongTypeYieldsNil(t *testing.T) {
	if got := metadataString(map[string]any{}, "missing"); got != nil {
		t.Errorf("expected nil for missing key, got %v", *got)
	}
	if got := metadataString(map[string]any{"actualGasCost": 123}, "actualGasCost"); got != nil {
		t.Errorf("expected nil for non-string value, got %v", *got)
	}
	if got := metadataString(map[string]any{"token": ""}, "token"); got != nil {
		t.Errorf("expected nil for empty string value, got %v", *got)
	}
	if got := metadataString(nil, "token"); got != nil {
		t.Errorf("expected nil for nil metadata map, got %v", *got)
	}
}

func TestMetadataInt64ParsesHexAndDecimal(t *testing.T) {
	hex := metadataInt64(map[string]any{"actualGasCost": "0x2a"}, "actualGasCost")
	if hex == nil || *hex != 42 {
		t.Errorf("metadataInt64(hex) = %v, want 42", hex)
	}
	dec := metadataInt64(map[string]any{"actualGasUsed": "42"}, "actualGasUsed")
	if dec == nil || *dec != 42 {
		t.Errorf("metadataInt64(dec) = %v, want 42", dec)
	}
	if got := metadataInt64(map[string]any{}, "missing"); got != nil {
		t.Errorf("expected nil for missing key, got %v", *got)
	}
}

func TestCanonicalizeHashUsedByStorageLowercases(t *testing.T) {
	// GetByHash and UpsertUserOpFact both require a live pgxpool.Pool and are
	// not exercised here; both pass the hash through model.CanonicalizeHash
	// before querying, so that normalization is tested directly instead.
	if got := model.CanonicalizeHash("0xABCDEF"); got != "0xabcdef" {
		t.Errorf("CanonicalizeHash = %q, want 0xabcdef", got)
	}
}

func TestExistingRowZeroValueHasNoAuxiliaryData(t *testing.T) {
	var row existingRow
	if row.status != "" || row.nativeUSDPrice != nil || row.actualGasCost != nil || row.usdAmount != nil {
		t.Errorf("zero-value existingRow should carry no data, got %+v", row)
	}
}
