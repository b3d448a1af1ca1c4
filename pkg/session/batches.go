package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/memo"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"

	"github.com/malbeclabs/spraydrop/pkg/metrics"
	"github.com/malbeclabs/spraydrop/pkg/plan"
)

// Execute partitions the payouts into fixed-size batches and runs them
// strictly sequentially, one custodial-signed transaction per batch,
// streaming each batch's outcome as it lands. A failed batch is recorded
// and the loop moves on: a single batch never aborts the run. The returned
// channel is finite and closes when the last batch has been attempted.
func (s *Session) Execute(ctx context.Context) (<-chan BatchResult, error) {
	if phase := s.currentPhase(); phase != PhaseFunded {
		return nil, fmt.Errorf("cannot execute session in phase %s", phase)
	}
	s.setPhase(PhaseDistributing)

	out := make(chan BatchResult)
	go func() {
		defer close(out)

		payouts := s.cfg.Plan.Payouts
		size := s.cfg.Plan.BatchSize
		for start, index := 0, 0; start < len(payouts); start, index = start+size, index+1 {
			end := min(start+size, len(payouts))
			batch := payouts[start:end]

			result := BatchResult{BatchIndex: index, Payouts: batch}
			sig, err := s.runBatch(ctx, batch)
			if err != nil {
				// Failure isolation: record and continue. The batch log is
				// the authoritative record of what did not get paid.
				berr := &BatchError{BatchIndex: index, Err: err}
				result.Err = berr.Error()
				metrics.BatchesTotal.WithLabelValues("error").Inc()
				s.log.Warn("session: batch failed", "session", s.id, "batch", index, "recipients", len(batch), "error", err)
			} else {
				result.Signature = sig.String()
				metrics.BatchesTotal.WithLabelValues("ok").Inc()
				metrics.PayoutInstructionsTotal.Add(float64(len(batch)))
				for _, p := range batch {
					metrics.RawUnitsDistributedTotal.Add(float64(p.RawAmount))
				}
				s.log.Info("session: batch confirmed", "session", s.id, "batch", index, "recipients", len(batch), "signature", sig)
			}

			s.appendBatch(result)

			select {
			case out <- result:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// runBatch builds, signs and confirms one batch transaction. Instruction
// order is fixed: compute budget, memo, account creations, payouts.
// Creation must precede transfer to the same account within the
// transaction.
func (s *Session) runBatch(ctx context.Context, batch []plan.Payout) (solana.Signature, error) {
	if len(batch) > s.cfg.Plan.BatchSize {
		return solana.Signature{}, errors.New("batch exceeds configured size")
	}

	custodialPub := s.cfg.Key.PublicKey()

	instrs := []solana.Instruction{
		computebudget.NewSetComputeUnitLimitInstruction(s.cfg.ComputeUnitLimit).Build(),
		computebudget.NewSetComputeUnitPriceInstruction(s.cfg.ComputeUnitPrice).Build(),
		memo.NewMemoInstruction([]byte(s.cfg.MemoTag), custodialPub).Build(),
	}

	if s.cfg.Plan.IsNativeAsset {
		for _, p := range batch {
			instrs = append(instrs,
				system.NewTransferInstruction(p.RawAmount, custodialPub, p.Recipient.Address).Build())
		}
	} else {
		custodialATA, err := s.custodialATA()
		if err != nil {
			return solana.Signature{}, err
		}

		atas := make([]solana.PublicKey, len(batch))
		for i, p := range batch {
			ata, _, err := solana.FindAssociatedTokenAddress(p.Recipient.Address, s.cfg.Mint)
			if err != nil {
				return solana.Signature{}, fmt.Errorf("failed to derive token account for %s: %w", p.Recipient.Address, err)
			}
			atas[i] = ata
		}

		exists, err := s.cfg.Ledger.AccountsExist(ctx, atas)
		if err != nil {
			return solana.Signature{}, fmt.Errorf("failed to check recipient token accounts: %w", err)
		}

		for i, p := range batch {
			if !exists[i] {
				instrs = append(instrs,
					associatedtokenaccount.NewCreateInstruction(custodialPub, p.Recipient.Address, s.cfg.Mint).Build())
			}
		}
		for i, p := range batch {
			instrs = append(instrs,
				token.NewTransferInstruction(p.RawAmount, custodialATA, atas[i], custodialPub, nil).Build())
		}
	}

	blockhash, err := s.cfg.Ledger.LatestBlockhash(ctx)
	if err != nil {
		return solana.Signature{}, err
	}

	tx, err := solana.NewTransaction(instrs, blockhash, solana.TransactionPayer(custodialPub))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to build batch transaction: %w", err)
	}
	if err := s.signWithCustodial(tx); err != nil {
		return solana.Signature{}, err
	}

	return s.cfg.Ledger.SubmitAndConfirm(ctx, tx)
}
