package decoder

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Log is the chain-tagged, decoder-friendly view of an on-chain log the
// chain listener hands to the fusion processor over the log channel.
type Log struct {
	ChainID     uint64
	Address     common.Address
	Topics      []common.Hash
	Data        []byte
	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint
}

// FromEthLog adapts a go-ethereum types.Log into the decoder's Log, tagging
// it with the chain it was fetched from.
func FromEthLog(chainID uint64, l types.Log) Log {
	return Log{
		ChainID:     chainID,
		Address:     l.Address,
		Topics:      l.Topics,
		Data:        l.Data,
		BlockNumber: l.BlockNumber,
		TxHash:      l.TxHash,
		LogIndex:    l.Index,
	}
}

// Topic0 returns the event signature topic, or the zero hash if the log has
// no topics (anonymous events are not expected here).
func (l Log) Topic0() common.Hash {
	if len(l.Topics) == 0 {
		return common.Hash{}
	}
	return l.Topics[0]
}
