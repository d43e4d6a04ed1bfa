// Package storage writes fused UserOpFact records into the
// pm_user_operations hypertable, one row per (chain_id, user_op_hash),
// applying the status-priority upsert rule documented in spec.md §4.6.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/paymaster-labs/pm-indexer/internal/metrics"
	"github.com/paymaster-labs/pm-indexer/internal/model"
)

// Writer is the single collaborator the fusion processor, bus consumer and
// HTTP facade depend on for persistence.
type Writer struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// SetMetrics attaches the indexer's Prometheus collectors. Safe to leave
// unset -- a nil metrics field is a no-op.
func (w *Writer) SetMetrics(m *metrics.Metrics) {
	w.metrics = m
}

// NewWriter connects a bounded pool (max 5 connections, matching
// spec.md §5's "Shared resources") to the Timescale/Postgres database.
func NewWriter(ctx context.Context, databaseURL string) (*Writer, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("storage: parse database url: %w", err)
	}
	cfg.MaxConns = 5

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("storage: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("storage: ping: %w", err)
	}
	return &Writer{pool: pool}, nil
}

// Close releases the pool.
func (w *Writer) Close() {
	w.pool.Close()
}

type existingRow struct {
	status         string
	nativeUSDPrice *string
	actualGasCost  *int64
	usdAmount      *string
}

// UpsertUserOpFact is the storage writer's single operation. The read,
// priority branch, and write happen inside one transaction with the
// existing row locked via SELECT ... FOR UPDATE, so two concurrent upserts
// for the same hash serialize at the database per SPEC_FULL §5.
func (w *Writer) UpsertUserOpFact(ctx context.Context, fact model.UserOpFact) error {
	hash := model.CanonicalizeHash(fact.UserOpHash)

	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	existing, err := readExisting(ctx, tx, fact.ChainID, hash)
	if err != nil {
		return err
	}

	nativePrice := fact.NativeUSDPrice
	if nativePrice == nil && existing != nil {
		nativePrice = existing.nativeUSDPrice
	}

	gasCostStr := metadataString(fact.Metadata, "actualGasCost")
	if gasCostStr == nil && existing != nil && existing.actualGasCost != nil {
		s := fmt.Sprintf("%d", *existing.actualGasCost)
		gasCostStr = &s
	}

	var usdAmount *string
	if gasCostStr != nil && nativePrice != nil {
		if usd, ok := model.CalculateUSDSpent(*gasCostStr, *nativePrice); ok {
			formatted := model.FormatUSD6(usd)
			usdAmount = &formatted
		}
	}
	if usdAmount == nil && existing != nil {
		usdAmount = existing.usdAmount
	}

	metadata := fact.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	if usdAmount != nil {
		metadata["usdAmount"] = *usdAmount
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("storage: marshal metadata: %w", err)
	}

	actualGasCost := metadataInt64(fact.Metadata, "actualGasCost")
	actualGasUsed := metadataInt64(fact.Metadata, "actualGasUsed")
	deductedUser := metadataString(fact.Metadata, "deductedUser")
	token := metadataString(fact.Metadata, "token")
	deductedAmount := metadataString(fact.Metadata, "deductedAmount")
	premium := metadataString(fact.Metadata, "premium")
	tokenCharge := metadataString(fact.Metadata, "tokenCharge")
	appliedMarkup := metadataString(fact.Metadata, "appliedMarkup")
	exchangeRate := metadataString(fact.Metadata, "exchangeRate")
	accountDeployed := model.AccountDeployed(fact.UserOperation)

	userOp := fact.UserOperation
	if len(userOp) == 0 {
		userOp = json.RawMessage("null")
	}

	outcome := "insert"
	if existing == nil {
		_, err = tx.Exec(ctx, insertSQL,
			fact.Time, fact.ChainID, hash, userOp, fact.OrgID, fact.CredentialID, string(fact.PaymasterMode),
			fact.FundType, fact.PaymasterID, fact.PolicyID, string(fact.Status), fact.DataSource,
			actualGasCost, actualGasUsed, deductedUser, deductedAmount, usdAmount,
			token, premium, tokenCharge, appliedMarkup, exchangeRate, nativePrice,
			metadataJSON, accountDeployed,
		)
	} else if fact.Status.Priority() > model.ParseStatus(existing.status).Priority() {
		outcome = "update_status"
		_, err = tx.Exec(ctx, updateStatusCarryingSQL,
			string(fact.Status), string(fact.PaymasterMode), fact.DataSource, metadataJSON,
			actualGasCost, actualGasUsed, deductedUser, deductedAmount, usdAmount,
			token, premium, tokenCharge, appliedMarkup, exchangeRate, nativePrice,
			fact.ChainID, hash,
		)
	} else {
		outcome = "update_aux"
		_, err = tx.Exec(ctx, updateAuxiliaryOnlySQL,
			fact.OrgID, string(fact.PaymasterMode), fact.PaymasterID, fact.CredentialID,
			metadataJSON, usdAmount, nativePrice, accountDeployed, fact.FundType,
			fact.ChainID, hash,
		)
	}
	if err != nil {
		return fmt.Errorf("storage: write: %w", err)
	}
	if w.metrics != nil {
		w.metrics.RecordStorageUpsert(outcome)
	}

	return tx.Commit(ctx)
}

// Row is the JSON-serializable view of one pm_user_operations record
// returned by the HTTP lookup facade.
type Row struct {
	UserOpHash    string          `json:"userOpHash"`
	ChainID       uint64          `json:"chainId"`
	UserOperation json.RawMessage `json:"userOperation,omitempty"`
	PolicyID      *string         `json:"policyId,omitempty"`
	PaymasterMode string          `json:"paymasterMode"`
	DataSource    *string         `json:"dataSource,omitempty"`
	Status        string          `json:"status"`
	TokenAddress  *string         `json:"tokenAddress,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
}

// GetByHash is the read side of the storage collaborator, used by the HTTP
// lookup facade's GET /user_op/:hash.
func (w *Writer) GetByHash(ctx context.Context, userOpHash string) (*Row, error) {
	hash := model.CanonicalizeHash(userOpHash)

	var row Row
	err := w.pool.QueryRow(ctx,
		`SELECT user_op_hash, chain_id, user_operation, policy_id, paymaster_mode,
		        data_source, status, token_address, metadata
		 FROM pm_user_operations WHERE user_op_hash = $1`,
		hash,
	).Scan(&row.UserOpHash, &row.ChainID, &row.UserOperation, &row.PolicyID, &row.PaymasterMode,
		&row.DataSource, &row.Status, &row.TokenAddress, &row.Metadata)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get by hash: %w", err)
	}
	return &row, nil
}

func readExisting(ctx context.Context, tx pgx.Tx, chainID uint64, hash string) (*existingRow, error) {
	var row existingRow
	err := tx.QueryRow(ctx,
		`SELECT status, native_usd_price, actual_gas_cost, usd_amount
		 FROM pm_user_operations WHERE chain_id = $1 AND user_op_hash = $2 FOR UPDATE`,
		chainID, hash,
	).Scan(&row.status, &row.nativeUSDPrice, &row.actualGasCost, &row.usdAmount)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: read existing: %w", err)
	}
	return &row, nil
}

func metadataString(metadata map[string]any, key string) *string {
	v, ok := metadata[key]
	if !ok {
		return nil
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	return &s
}

func metadataInt64(metadata map[string]any, key string) *int64 {
	s := metadataString(metadata, key)
	if s == nil {
		return nil
	}
	v, ok := model.ParseGasValueInt64(*s)
	if !ok {
		return nil
	}
	return &v
}

const insertSQL = `
INSERT INTO pm_user_operations
  (time, chain_id, user_op_hash, user_operation, org_id, credential_id, paymaster_mode,
   fund_type, paymaster_id, policy_id, status, data_source,
   actual_gas_cost, actual_gas_used, deducted_user, deducted_amount, usd_amount,
   token, premium, token_charge, applied_markup, exchange_rate, native_usd_price,
   metadata, account_deployed)
VALUES
  ($1, $2, $3, $4::jsonb, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
   $18, $19, $20, $21, $22, $23, $24::jsonb, $25)`

const updateStatusCarryingSQL = `
UPDATE pm_user_operations SET
  status = $1, paymaster_mode = $2, data_source = $3,
  metadata = metadata || $4::jsonb,
  actual_gas_cost = $5, actual_gas_used = $6, deducted_user = $7,
  deducted_amount = $8, usd_amount = $9, token = $10,
  premium = $11, token_charge = $12, applied_markup = $13, exchange_rate = $14,
  native_usd_price = $15
WHERE chain_id = $16 AND user_op_hash = $17`

const updateAuxiliaryOnlySQL = `
UPDATE pm_user_operations SET
  org_id = COALESCE(org_id, $1),
  paymaster_mode = COALESCE(paymaster_mode, $2),
  paymaster_id = COALESCE(paymaster_id, $3),
  credential_id = COALESCE(credential_id, $4),
  metadata = metadata || $5::jsonb,
  usd_amount = COALESCE(usd_amount, $6),
  native_usd_price = COALESCE(native_usd_price, $7),
  account_deployed = COALESCE(account_deployed, $8),
  fund_type = COALESCE(fund_type, $9)
WHERE chain_id = $10 AND user_op_hash = $11`
