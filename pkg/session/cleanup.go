package session

import (
	"context"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"

	"github.com/malbeclabs/spraydrop/pkg/metrics"
)

// Cleanup sweeps whatever the custodial account still holds back to the
// operator: token balances move to the operator's holding accounts, the
// custodial token accounts are closed to reclaim rent, and lamports above
// the fee reserve are returned. Runs once after all batches, best-effort:
// every failure is downgraded to CleanupWarning and the session still
// completes. The custodial key is retired regardless.
func (s *Session) Cleanup(ctx context.Context) []error {
	var warnings []error
	warn := func(op string, err error) {
		w := &CleanupWarning{Op: op, Err: err}
		warnings = append(warnings, w)
		metrics.CleanupWarningsTotal.Inc()
		s.log.Warn("session: "+w.Error(), "session", s.id)
	}

	defer func() {
		s.cfg.Key.Retire()
		s.setPhase(PhaseCleanedUp)
	}()

	operatorPub := s.cfg.Operator.PublicKey()
	custodialPub := s.cfg.Key.PublicKey()

	var instrs []solana.Instruction

	tokenAccounts, err := s.cfg.Ledger.TokenAccountsByOwner(ctx, custodialPub)
	if err != nil {
		warn("enumerate token accounts", err)
	} else {
		for _, acc := range tokenAccounts {
			if acc.Amount > 0 {
				operatorATA, _, err := solana.FindAssociatedTokenAddress(operatorPub, acc.Mint)
				if err != nil {
					warn("derive operator token account", err)
					continue
				}
				exists, err := s.cfg.Ledger.AccountsExist(ctx, []solana.PublicKey{operatorATA})
				if err != nil {
					warn("check operator token account", err)
					continue
				}
				if !exists[0] {
					instrs = append(instrs,
						associatedtokenaccount.NewCreateInstruction(custodialPub, operatorPub, acc.Mint).Build())
				}
				instrs = append(instrs,
					token.NewTransferInstruction(acc.Amount, acc.Address, operatorATA, custodialPub, nil).Build())
			}
			// Closing returns the account's rent to the operator.
			instrs = append(instrs,
				token.NewCloseAccountInstruction(acc.Address, operatorPub, custodialPub, nil).Build())
		}
	}

	balance, err := s.cfg.Ledger.Balance(ctx, custodialPub)
	if err != nil {
		warn("read custodial balance", err)
	} else if balance > s.cfg.FeeReserve {
		instrs = append(instrs,
			system.NewTransferInstruction(balance-s.cfg.FeeReserve, custodialPub, operatorPub).Build())
	}

	if len(instrs) == 0 {
		s.log.Info("session: nothing to reclaim", "session", s.id)
		return warnings
	}

	blockhash, err := s.cfg.Ledger.LatestBlockhash(ctx)
	if err != nil {
		warn("get blockhash", err)
		return warnings
	}

	tx, err := solana.NewTransaction(instrs, blockhash, solana.TransactionPayer(custodialPub))
	if err != nil {
		warn("build sweep transaction", err)
		return warnings
	}
	if err := s.signWithCustodial(tx); err != nil {
		warn("sign sweep transaction", err)
		return warnings
	}

	sig, err := s.cfg.Ledger.SubmitAndConfirm(ctx, tx)
	if err != nil {
		warn("submit sweep transaction", err)
		return warnings
	}

	s.log.Info("session: residual balances reclaimed", "session", s.id, "signature", sig)
	return warnings
}
