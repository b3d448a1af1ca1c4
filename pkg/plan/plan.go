// Package plan turns a total amount, a resolved recipient set, and asset
// parameters into deterministic per-recipient payouts plus an advisory cost
// estimate. Everything here is pure; no ledger writes happen until the
// operator funds the session.
package plan

import (
	"fmt"
	"math"

	"github.com/malbeclabs/spraydrop/pkg/weights"
)

const (
	// DefaultBatchSize is the practical payout-instruction ceiling per
	// transaction.
	DefaultBatchSize = 12

	// FeePerBatch is the lamport allowance per batch transaction: the base
	// signature fee plus a priority-fee allowance.
	FeePerBatch = 15_000

	// SafetyBuffer is a fixed lamport reserve funded on top of the
	// estimate.
	SafetyBuffer = 10_000_000

	// TokenAccountSize is the byte size of an SPL token-holding account,
	// used to price rent for recipient account creation.
	TokenAccountSize = 165
)

// PlanningError is the fatal pre-flight error: the requested distribution
// is degenerate and no funds may move.
type PlanningError struct {
	Reason string
}

func (e *PlanningError) Error() string {
	return fmt.Sprintf("planning failed: %s", e.Reason)
}

// Payout is one recipient's computed share in raw asset units.
type Payout struct {
	Recipient weights.Recipient `json:"recipient"`
	RawAmount uint64            `json:"rawAmount"`
}

// CostEstimate is the advisory funding estimate shown to the operator
// before any transaction is built. It never gates execution.
type CostEstimate struct {
	FeeEstimate   uint64 `json:"feeEstimate"`
	RentEstimate  uint64 `json:"rentEstimate"`
	BufferReserve uint64 `json:"bufferReserve"`
	TotalEstimate uint64 `json:"totalEstimate"`
	IsNativeAsset bool   `json:"isNativeAsset"`
}

// Input carries everything the planner needs.
type Input struct {
	TotalAmount   float64
	Recipients    []weights.Recipient
	TotalWeight   uint64
	AssetDecimals uint8
	IsNativeAsset bool

	// RentPerAccount is the lamport cost of creating one recipient
	// token-holding account. Ignored for native distributions.
	RentPerAccount uint64

	// BatchSize overrides DefaultBatchSize when > 0.
	BatchSize int
}

// Plan is the computed distribution: who gets how much, in how many
// batches, at what estimated cost.
type Plan struct {
	PerUnitAmount float64      `json:"perUnitAmount"`
	AssetDecimals uint8        `json:"assetDecimals"`
	IsNativeAsset bool         `json:"isNativeAsset"`
	Payouts       []Payout     `json:"payouts"`
	TotalRaw      uint64       `json:"totalRaw"`
	BatchSize     int          `json:"batchSize"`
	Estimate      CostEstimate `json:"estimate"`
}

// BatchCount returns the number of batches the payouts split into.
func (p *Plan) BatchCount() int {
	if len(p.Payouts) == 0 {
		return 0
	}
	return (len(p.Payouts) + p.BatchSize - 1) / p.BatchSize
}

// Compute builds the distribution plan. It fails with PlanningError before
// any funds move when the request is degenerate: zero weight, non-positive
// amount, or a per-unit amount that does not survive rounding at the
// asset's minimum representable unit.
func Compute(in Input) (*Plan, error) {
	if in.TotalWeight == 0 {
		return nil, &PlanningError{Reason: "total weight is zero"}
	}
	if in.TotalAmount <= 0 {
		return nil, &PlanningError{Reason: "total amount must be positive"}
	}

	perUnit := in.TotalAmount / float64(in.TotalWeight)
	if math.IsNaN(perUnit) || math.IsInf(perUnit, 0) {
		return nil, &PlanningError{Reason: "per-unit amount is not finite"}
	}

	factor := math.Pow10(int(in.AssetDecimals))
	if math.Floor(perUnit*factor) <= 0 {
		return nil, &PlanningError{
			Reason: fmt.Sprintf("per-unit amount %g rounds to zero at %d decimals", perUnit, in.AssetDecimals),
		}
	}

	batchSize := in.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	payouts := make([]Payout, 0, len(in.Recipients))
	var totalRaw uint64
	for _, r := range in.Recipients {
		raw := uint64(math.Floor(perUnit * float64(r.Weight) * factor))
		if raw == 0 {
			// Dust: no zero-value transfer instruction is ever emitted.
			continue
		}
		payouts = append(payouts, Payout{Recipient: r, RawAmount: raw})
		totalRaw += raw
	}

	batchCount := 0
	if len(payouts) > 0 {
		batchCount = (len(payouts) + batchSize - 1) / batchSize
	}

	est := CostEstimate{
		FeeEstimate:   uint64(batchCount+2) * FeePerBatch, // batches + funding + cleanup
		BufferReserve: SafetyBuffer,
		IsNativeAsset: in.IsNativeAsset,
	}
	if !in.IsNativeAsset {
		est.RentEstimate = uint64(len(payouts)) * in.RentPerAccount
	}
	est.TotalEstimate = est.FeeEstimate + est.RentEstimate + est.BufferReserve

	return &Plan{
		PerUnitAmount: perUnit,
		AssetDecimals: in.AssetDecimals,
		IsNativeAsset: in.IsNativeAsset,
		Payouts:       payouts,
		TotalRaw:      totalRaw,
		BatchSize:     batchSize,
		Estimate:      est,
	}, nil
}
