// Package fusion pairs a preceding paymaster auxiliary event with the
// EntryPoint's UserOperationEvent that follows it in the same transaction,
// classifying the paymaster mode before handing a merged fact to storage.
package fusion

import (
	"context"
	"log"
	"time"

	"github.com/paymaster-labs/pm-indexer/internal/chain"
	"github.com/paymaster-labs/pm-indexer/internal/config"
	"github.com/paymaster-labs/pm-indexer/internal/decoder"
	"github.com/paymaster-labs/pm-indexer/internal/metrics"
	"github.com/paymaster-labs/pm-indexer/internal/model"
)

// MergeCoordinator is the subset of merge.Coordinator the processor needs.
type MergeCoordinator interface {
	UpdatePolicy(ctx context.Context, userOpHash string, partial model.PolicyData) error
}

// StorageWriter is the subset of storage.Writer the processor needs.
type StorageWriter interface {
	UpsertUserOpFact(ctx context.Context, fact model.UserOpFact) error
}

// pending captures the decoded auxiliary event a chain is lookahead-holding,
// waiting to be paired with that chain's next UserOperationEvent.
type pending struct {
	kind               string
	gasBalanceDeducted decoder.GasBalanceDeducted
	paidGasInTokens    decoder.PaidGasInTokens
}

// Processor is the single-consumer fusion task. Its only state is prev,
// keyed per chain ID -- DELIBERATELY a map, never a single variable --
// because two chains can interleave logs on the shared input channel and a
// single slot would let chain A's auxiliary event pair with chain B's
// UserOperationEvent.
type Processor struct {
	tables  map[uint64]*decoder.ChainTable
	merge   MergeCoordinator
	storage StorageWriter
	in      <-chan chain.ChainLog
	metrics *metrics.Metrics

	prev map[uint64]*pending
}

// New builds a processor with one ChainTable per active chain.
func New(chains map[string]config.ChainConfig, merge MergeCoordinator, storage StorageWriter, in <-chan chain.ChainLog) *Processor {
	tables := make(map[uint64]*decoder.ChainTable, len(chains))
	for _, c := range chains {
		if !c.Active {
			continue
		}
		tables[c.ChainID] = decoder.BuildChainTable(c)
	}
	return &Processor{
		tables:  tables,
		merge:   merge,
		storage: storage,
		in:      in,
		prev:    make(map[uint64]*pending),
	}
}

// SetMetrics attaches the indexer's Prometheus collectors. Safe to leave
// unset -- a nil metrics field is a no-op.
func (p *Processor) SetMetrics(m *metrics.Metrics) {
	p.metrics = m
}

// Run consumes (chainID, log) pairs in arrival order until in is closed or
// ctx is cancelled.
func (p *Processor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cl, ok := <-p.in:
			if !ok {
				return
			}
			p.handle(ctx, cl)
		}
	}
}

func (p *Processor) handle(ctx context.Context, cl chain.ChainLog) {
	table := p.tables[cl.ChainID]
	if table == nil {
		log.Printf("fusion: no event table configured for chain %d, dropping log", cl.ChainID)
		return
	}
	def, ok := table.Lookup(cl.Log.Topic0())
	if !ok {
		return
	}

	switch def.Name {
	case decoder.EventGasBalanceDeducted:
		decoded, err := decoder.DecodeGasBalanceDeducted(cl.Log)
		if err != nil {
			log.Printf("fusion: decode GasBalanceDeducted on chain %d: %v", cl.ChainID, err)
			return
		}
		p.prev[cl.ChainID] = &pending{kind: decoder.EventGasBalanceDeducted, gasBalanceDeducted: decoded}

	case decoder.EventPaidGasInTokens:
		decoded, err := decoder.DecodePaidGasInTokens(cl.Log)
		if err != nil {
			log.Printf("fusion: decode PaidGasInTokens on chain %d: %v", cl.ChainID, err)
			return
		}
		p.prev[cl.ChainID] = &pending{kind: decoder.EventPaidGasInTokens, paidGasInTokens: decoded}

	case decoder.EventUserOperationSponsoredForPostpaid:
		if _, err := decoder.DecodeUserOperationSponsoredForPostpaid(cl.Log); err != nil {
			log.Printf("fusion: decode UserOperationSponsoredForPostpaid on chain %d: %v", cl.ChainID, err)
			return
		}
		p.prev[cl.ChainID] = &pending{kind: decoder.EventUserOperationSponsoredForPostpaid}

	case decoder.EventUserOperationEvent:
		p.handleUserOperationEvent(ctx, cl, table)

	default:
		// UserOperationSponsored, RefundProcessed: informational only, no
		// state transition, prev is left untouched.
	}
}

func (p *Processor) handleUserOperationEvent(ctx context.Context, cl chain.ChainLog, table *decoder.ChainTable) {
	decoded, err := decoder.DecodeUserOperationEvent(cl.Log)
	if err != nil {
		log.Printf("fusion: decode UserOperationEvent on chain %d: %v", cl.ChainID, err)
		return
	}
	if !table.IsAllowedPaymaster(decoded.Paymaster) {
		log.Printf("fusion: paymaster %s not allowlisted for chain %d, dropping", decoded.Paymaster.Hex(), cl.ChainID)
		if p.metrics != nil {
			p.metrics.RecordFusionOutcome(cl.ChainID, "dropped_disallowed")
		}
		return
	}

	prior := p.prev[cl.ChainID]
	p.prev[cl.ChainID] = nil

	status := model.StatusSuccess
	if !decoded.Success {
		status = model.StatusFailed
	}

	gasCost := decoded.ActualGasCost.Int64()
	gasUsed := decoded.ActualGasUsed.Int64()
	gasCostStr := decoded.ActualGasCost.String()
	gasUsedStr := decoded.ActualGasUsed.String()

	fact := model.UserOpFact{
		UserOpHash:    model.CanonicalizeHash(decoded.UserOpHash.Hex()),
		ChainID:       cl.ChainID,
		Time:          time.Now().UTC(),
		Status:        status,
		PaymasterMode: model.PaymasterModeUnknown,
		DataSource:    "Indexer",
		ActualGasCost: &gasCost,
		ActualGasUsed: &gasUsed,
		Metadata: map[string]any{
			"actualGasCost": gasCostStr,
			"actualGasUsed": gasUsedStr,
		},
	}

	switch {
	case prior == nil:
		log.Printf("fusion: UserOperationEvent for %s on chain %d had no preceding paymaster event", fact.UserOpHash, cl.ChainID)
		if p.metrics != nil {
			p.metrics.RecordFusionOutcome(cl.ChainID, "unpaired")
		}

	case prior.kind == decoder.EventGasBalanceDeducted:
		fact.PaymasterMode = model.PaymasterModeSponsorshipPrepaid
		user := prior.gasBalanceDeducted.User.Hex()
		amount := prior.gasBalanceDeducted.Amount.String()
		premium := prior.gasBalanceDeducted.Premium.String()
		fact.DeductedUser = &user
		fact.DeductedAmount = &amount
		fact.Premium = &premium
		fact.Metadata["deductedUser"] = user
		fact.Metadata["deductedAmount"] = amount
		fact.Metadata["premium"] = premium

	case prior.kind == decoder.EventUserOperationSponsoredForPostpaid:
		fact.PaymasterMode = model.PaymasterModeSponsorshipPostpaid

	case prior.kind == decoder.EventPaidGasInTokens:
		fact.PaymasterMode = model.PaymasterModeToken
		token := prior.paidGasInTokens.Token.Hex()
		tokenCharge := prior.paidGasInTokens.TokenCharge.String()
		appliedMarkup := prior.paidGasInTokens.AppliedMarkup.String()
		exchangeRate := prior.paidGasInTokens.ExchangeRate.String()
		fact.TokenAddress = &token
		fact.Token = &token
		fact.TokenCharge = &tokenCharge
		fact.AppliedMarkup = &appliedMarkup
		fact.ExchangeRate = &exchangeRate
		fact.Metadata["token"] = token
		fact.Metadata["tokenCharge"] = tokenCharge
		fact.Metadata["appliedMarkup"] = appliedMarkup
		fact.Metadata["exchangeRate"] = exchangeRate
	}

	if prior != nil && p.metrics != nil {
		p.metrics.RecordFusionOutcome(cl.ChainID, "paired")
	}

	if fact.PaymasterMode.IsSponsorship() {
		if err := p.merge.UpdatePolicy(ctx, fact.UserOpHash, model.PolicyData{
			ActualGasCost: &gasCostStr,
			ActualGasUsed: &gasUsedStr,
		}); err != nil {
			log.Printf("fusion: update policy for %s: %v", fact.UserOpHash, err)
		}
	}

	if err := p.storage.UpsertUserOpFact(ctx, fact); err != nil {
		log.Printf("fusion: upsert %s: %v", fact.UserOpHash, err)
	}
}
