package session

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
)

// Fund moves the session's working capital from the operator to the
// custodial account in one atomic transaction: lamports for fees, rent and
// buffer (plus the payout total when distributing the native currency),
// and for token distributions the full token payout into the custodial
// holding account. Failure is fatal and transitions the session to
// ABORTED before any batch is attempted.
func (s *Session) Fund(ctx context.Context) error {
	if phase := s.currentPhase(); phase != PhasePlanned {
		return &FundingError{Err: fmt.Errorf("cannot fund session in phase %s", phase)}
	}
	if err := s.cfg.Key.ReadyToFund(); err != nil {
		return &FundingError{Err: err}
	}

	operatorPub := s.cfg.Operator.PublicKey()
	custodialPub := s.cfg.Key.PublicKey()

	lamports := s.cfg.Plan.Estimate.TotalEstimate
	if s.cfg.Plan.IsNativeAsset {
		lamports += s.cfg.Plan.TotalRaw
	}

	instrs := []solana.Instruction{
		system.NewTransferInstruction(lamports, operatorPub, custodialPub).Build(),
	}

	if !s.cfg.Plan.IsNativeAsset {
		custodialATA, err := s.custodialATA()
		if err != nil {
			return s.abortFunding(err)
		}
		operatorATA, _, err := solana.FindAssociatedTokenAddress(operatorPub, s.cfg.Mint)
		if err != nil {
			return s.abortFunding(fmt.Errorf("failed to derive operator token account: %w", err))
		}

		exists, err := s.cfg.Ledger.AccountsExist(ctx, []solana.PublicKey{custodialATA})
		if err != nil {
			return s.abortFunding(err)
		}
		if !exists[0] {
			instrs = append(instrs,
				associatedtokenaccount.NewCreateInstruction(operatorPub, custodialPub, s.cfg.Mint).Build())
		}
		instrs = append(instrs,
			token.NewTransferInstruction(s.cfg.Plan.TotalRaw, operatorATA, custodialATA, operatorPub, nil).Build())
	}

	blockhash, err := s.cfg.Ledger.LatestBlockhash(ctx)
	if err != nil {
		return s.abortFunding(err)
	}

	tx, err := solana.NewTransaction(instrs, blockhash, solana.TransactionPayer(operatorPub))
	if err != nil {
		return s.abortFunding(fmt.Errorf("failed to build funding transaction: %w", err))
	}
	if err := s.signWithOperator(tx); err != nil {
		return s.abortFunding(err)
	}

	sig, err := s.cfg.Ledger.SubmitAndConfirm(ctx, tx)
	if err != nil {
		return s.abortFunding(fmt.Errorf("funding transaction rejected: %w", err))
	}

	s.mu.Lock()
	s.fundingSig = sig
	s.phase = PhaseFunded
	s.mu.Unlock()

	if err := s.cfg.Key.MarkFunded(); err != nil {
		return s.abortFunding(err)
	}

	s.log.Info("session: custodial account funded",
		"session", s.id,
		"custodial", custodialPub,
		"lamports", lamports,
		"signature", sig)
	return nil
}

func (s *Session) abortFunding(err error) error {
	s.setPhase(PhaseAborted)
	return &FundingError{Err: err}
}
