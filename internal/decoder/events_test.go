package decoder

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/paymaster-labs/pm-indexer/internal/config"
)

func packUint256(vals ...*big.Int) []byte {
	var out []byte
	for _, v := range vals {
		b := make([]byte, 32)
		v.FillBytes(b)
		out = append(out, b...)
	}
	return out
}

func packBool(b bool) []byte {
	out := make([]byte, 32)
	if b {
		out[31] = 1
	}
	return out
}

func addressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

func TestDecodeGasBalanceDeducted(t *testing.T) {
	user := common.HexToAddress("0x00000000000000000000000000000000000000CE")
	l := Log{
		Topics: []common.Hash{common.Hash{}, addressTopic(user)},
		Data:   packUint256(big.NewInt(1000), big.NewInt(10)),
	}
	decoded, err := DecodeGasBalanceDeducted(l)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.User != user {
		t.Errorf("user = %s, want %s", decoded.User, user)
	}
	if decoded.Amount.Cmp(big.NewInt(1000)) != 0 || decoded.Premium.Cmp(big.NewInt(10)) != 0 {
		t.Errorf("amount/premium = %s/%s, want 1000/10", decoded.Amount, decoded.Premium)
	}
}

func TestDecodeUserOperationEvent(t *testing.T) {
	userOpHash := common.HexToHash("0xabc")
	sender := common.HexToAddress("0x111111111111111111111111111111111111AAAA")
	paymaster := common.HexToAddress("0x222222222222222222222222222222222222BBBB")

	var data []byte
	nonce := make([]byte, 32)
	nonce[31] = 1
	data = append(data, nonce...)
	data = append(data, packBool(true)...)
	data = append(data, packUint256(big.NewInt(1000))...)
	data = append(data, packUint256(big.NewInt(100))...)

	l := Log{
		Topics: []common.Hash{common.Hash{}, userOpHash, addressTopic(sender), addressTopic(paymaster)},
		Data:   data,
	}

	decoded, err := DecodeUserOperationEvent(l)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.UserOpHash != userOpHash || decoded.Sender != sender || decoded.Paymaster != paymaster {
		t.Fatalf("unexpected decoded fields: %+v", decoded)
	}
	if !decoded.Success {
		t.Error("success should be true")
	}
	if decoded.ActualGasCost.Cmp(big.NewInt(1000)) != 0 || decoded.ActualGasUsed.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("gas cost/used = %s/%s, want 1000/100", decoded.ActualGasCost, decoded.ActualGasUsed)
	}
}

func TestChainTableAllowlistAndLookup(t *testing.T) {
	paymaster := "0x2222222222222222222222222222222222BBBB"
	configured := common.HexToHash("0x6a34e6625b7f1d73b0e19d0ca3f1a8e42c0a76e3a3d11f18e3cf6c4ef4b8fcaa")

	chain := config.ChainConfig{
		ChainID: 8453,
		Contracts: []config.ContractConfig{
			{
				Name:    "GasTankPaymaster",
				Address: paymaster,
				Events: []config.EventConfig{
					{Signature: configured.Hex(), Name: EventGasBalanceDeducted, Params: []string{"address", "uint256", "uint256"}},
				},
			},
		},
	}

	table := BuildChainTable(chain)

	def, ok := table.Lookup(configured)
	if !ok {
		t.Fatalf("expected topic0 %s to resolve", configured)
	}
	if def.Name != EventGasBalanceDeducted {
		t.Errorf("event name = %q, want %q", def.Name, EventGasBalanceDeducted)
	}

	unconfigured := common.HexToHash("0xdead")
	if _, ok := table.Lookup(unconfigured); ok {
		t.Errorf("unconfigured topic0 should not resolve")
	}

	if !table.IsAllowedPaymaster(common.HexToAddress(paymaster)) {
		t.Errorf("configured contract address should be allowed")
	}
	if table.IsAllowedPaymaster(common.HexToAddress("0x333333333333333333333333333333333333CC")) {
		t.Errorf("unconfigured address should not be allowed")
	}
}
