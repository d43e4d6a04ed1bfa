// Package decoder maps 32-byte event-signature topics to event names and
// decodes the known paymaster/EntryPoint event payloads the fusion
// processor correlates.
package decoder

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/paymaster-labs/pm-indexer/internal/config"
)

// EventDef is the configuration-driven (name, param schema) a topic0
// resolves to. Param types are carried through for events this package
// does not have a hardcoded typed decoder for.
type EventDef struct {
	Name   string
	Params []string
}

// Recognized event names that affect fusion state (spec.md §4.2).
const (
	EventGasBalanceDeducted               = "GasBalanceDeducted"
	EventPaidGasInTokens                  = "PaidGasInTokens"
	EventUserOperationSponsoredForPostpaid = "UserOperationSponsoredForPostpaid"
	EventUserOperationEvent               = "UserOperationEvent"
	EventUserOperationSponsored            = "UserOperationSponsored"
	EventRefundProcessed                   = "RefundProcessed"
)

// ChainTable is the per-chain view of the event decoder: the union of
// topic0 -> EventDef for every configured contract on that chain, and the
// paymaster-address allowlist used to validate UserOperationEvent logs.
type ChainTable struct {
	events  map[common.Hash]EventDef
	allowed map[common.Address]bool
}

// BuildChainTable constructs a ChainTable from one chain's contract list.
func BuildChainTable(chain config.ChainConfig) *ChainTable {
	t := &ChainTable{
		events:  make(map[common.Hash]EventDef),
		allowed: make(map[common.Address]bool),
	}
	for _, c := range chain.Contracts {
		t.allowed[common.HexToAddress(c.Address)] = true
		for _, e := range c.Events {
			t.events[common.HexToHash(e.Signature)] = EventDef{Name: e.Name, Params: e.Params}
		}
	}
	return t
}

// Lookup resolves a topic0 hash to its configured event definition.
func (t *ChainTable) Lookup(topic0 common.Hash) (EventDef, bool) {
	def, ok := t.events[topic0]
	return def, ok
}

// IsAllowedPaymaster reports whether addr is one of this chain's configured
// contracts (the allowlist UserOperationEvent.paymaster is checked against).
func (t *ChainTable) IsAllowedPaymaster(addr common.Address) bool {
	return t.allowed[addr]
}
