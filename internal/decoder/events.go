package decoder

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

var (
	typeUint256, _ = abi.NewType("uint256", "", nil)
	typeBool, _    = abi.NewType("bool", "", nil)
)

func unpackData(data []byte, types ...abi.Type) ([]interface{}, error) {
	args := make(abi.Arguments, len(types))
	for i, t := range types {
		args[i] = abi.Argument{Type: t}
	}
	return args.UnpackValues(data)
}

func requireTopics(l Log, n int) error {
	if len(l.Topics) < n {
		return fmt.Errorf("decoder: expected at least %d topics, got %d", n, len(l.Topics))
	}
	return nil
}

func topicToAddress(h common.Hash) common.Address {
	return common.BytesToAddress(h.Bytes())
}

// GasBalanceDeducted is emitted by the prepaid-sponsorship paymaster in the
// same transaction preceding an EntryPoint UserOperationEvent.
type GasBalanceDeducted struct {
	User    common.Address
	Amount  *big.Int
	Premium *big.Int
}

func DecodeGasBalanceDeducted(l Log) (GasBalanceDeducted, error) {
	if err := requireTopics(l, 2); err != nil {
		return GasBalanceDeducted{}, err
	}
	values, err := unpackData(l.Data, typeUint256, typeUint256)
	if err != nil {
		return GasBalanceDeducted{}, fmt.Errorf("decoder: GasBalanceDeducted: %w", err)
	}
	return GasBalanceDeducted{
		User:    topicToAddress(l.Topics[1]),
		Amount:  values[0].(*big.Int),
		Premium: values[1].(*big.Int),
	}, nil
}

// UserOperationSponsoredForPostpaid marks a postpaid-sponsorship paymaster mode.
type UserOperationSponsoredForPostpaid struct {
	UserOpHash common.Hash
	User       common.Address
}

func DecodeUserOperationSponsoredForPostpaid(l Log) (UserOperationSponsoredForPostpaid, error) {
	if err := requireTopics(l, 3); err != nil {
		return UserOperationSponsoredForPostpaid{}, err
	}
	return UserOperationSponsoredForPostpaid{
		UserOpHash: l.Topics[1],
		User:       topicToAddress(l.Topics[2]),
	}, nil
}

// PaidGasInTokens is emitted by the token-mode paymaster.
type PaidGasInTokens struct {
	User          common.Address
	Token         common.Address
	TokenCharge   *big.Int
	AppliedMarkup *big.Int
	ExchangeRate  *big.Int
}

func DecodePaidGasInTokens(l Log) (PaidGasInTokens, error) {
	if err := requireTopics(l, 3); err != nil {
		return PaidGasInTokens{}, err
	}
	values, err := unpackData(l.Data, typeUint256, typeUint256, typeUint256)
	if err != nil {
		return PaidGasInTokens{}, fmt.Errorf("decoder: PaidGasInTokens: %w", err)
	}
	return PaidGasInTokens{
		User:          topicToAddress(l.Topics[1]),
		Token:         topicToAddress(l.Topics[2]),
		TokenCharge:   values[0].(*big.Int),
		AppliedMarkup: values[1].(*big.Int),
		ExchangeRate:  values[2].(*big.Int),
	}, nil
}

// UserOperationEvent is emitted by the EntryPoint for every processed user operation.
type UserOperationEvent struct {
	UserOpHash    common.Hash
	Sender        common.Address
	Paymaster     common.Address
	Nonce         *big.Int
	Success       bool
	ActualGasCost *big.Int
	ActualGasUsed *big.Int
}

func DecodeUserOperationEvent(l Log) (UserOperationEvent, error) {
	if err := requireTopics(l, 4); err != nil {
		return UserOperationEvent{}, err
	}
	values, err := unpackData(l.Data, typeUint256, typeBool, typeUint256, typeUint256)
	if err != nil {
		return UserOperationEvent{}, fmt.Errorf("decoder: UserOperationEvent: %w", err)
	}
	return UserOperationEvent{
		UserOpHash:    l.Topics[1],
		Sender:        topicToAddress(l.Topics[2]),
		Paymaster:     topicToAddress(l.Topics[3]),
		Nonce:         values[0].(*big.Int),
		Success:       values[1].(bool),
		ActualGasCost: values[2].(*big.Int),
		ActualGasUsed: values[3].(*big.Int),
	}, nil
}

// UserOperationSponsored is an informational prepaid-paymaster event; it
// does not participate in the fusion state machine.
type UserOperationSponsored struct {
	UserOpHash common.Hash
	User       common.Address
}

func DecodeUserOperationSponsored(l Log) (UserOperationSponsored, error) {
	if err := requireTopics(l, 3); err != nil {
		return UserOperationSponsored{}, err
	}
	return UserOperationSponsored{
		UserOpHash: l.Topics[1],
		User:       topicToAddress(l.Topics[2]),
	}, nil
}

// RefundProcessed is an informational event; it does not participate in
// the fusion state machine.
type RefundProcessed struct {
	User   common.Address
	Amount *big.Int
}

func DecodeRefundProcessed(l Log) (RefundProcessed, error) {
	if err := requireTopics(l, 2); err != nil {
		return RefundProcessed{}, err
	}
	values, err := unpackData(l.Data, typeUint256)
	if err != nil {
		return RefundProcessed{}, fmt.Errorf("decoder: RefundProcessed: %w", err)
	}
	return RefundProcessed{
		User:   topicToAddress(l.Topics[1]),
		Amount: values[0].(*big.Int),
	}, nil
}
