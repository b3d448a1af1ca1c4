package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/spraydrop/pkg/metrics"
	"github.com/malbeclabs/spraydrop/pkg/retry"
)

// getMultipleAccounts caps the batch size at 100 addresses per request.
const maxMultipleAccounts = 100

type RPCConfig struct {
	Logger *slog.Logger
	Client *solanarpc.Client
	Clock  clockwork.Clock

	// ConfirmTimeout bounds the wait for a submitted transaction to reach
	// confirmed commitment. Exceeding it is a failure, not a hang.
	ConfirmTimeout time.Duration

	// ConfirmPollInterval is the delay between signature status polls.
	ConfirmPollInterval time.Duration

	Retry retry.Config
}

func (cfg *RPCConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Client == nil {
		return errors.New("rpc client is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 60 * time.Second
	}
	if cfg.ConfirmPollInterval <= 0 {
		cfg.ConfirmPollInterval = 2 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	return nil
}

// RPC is the production Client backed by a Solana JSON-RPC node.
type RPC struct {
	log *slog.Logger
	cfg RPCConfig
}

func NewRPC(cfg RPCConfig) (*RPC, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &RPC{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

func (c *RPC) LargestHolder(ctx context.Context, mint solana.PublicKey) (solana.PublicKey, bool, error) {
	var res *solanarpc.GetTokenLargestAccountsResult
	err := retry.Do(ctx, c.cfg.Retry, func() error {
		var err error
		res, err = c.cfg.Client.GetTokenLargestAccounts(ctx, mint, solanarpc.CommitmentConfirmed)
		return err
	})
	if err != nil {
		metrics.HolderLookupsTotal.WithLabelValues("error").Inc()
		return solana.PublicKey{}, false, fmt.Errorf("failed to get largest accounts for %s: %w", mint, err)
	}

	var largest solana.PublicKey
	for _, v := range res.Value {
		if v.Amount != "" && v.Amount != "0" {
			largest = v.Address
			break
		}
	}
	if largest.IsZero() {
		metrics.HolderLookupsTotal.WithLabelValues("empty").Inc()
		return solana.PublicKey{}, false, nil
	}

	// The largest-accounts call returns token accounts; the wallet is the
	// token account's owner field.
	var info *solanarpc.GetAccountInfoResult
	err = retry.Do(ctx, c.cfg.Retry, func() error {
		var err error
		info, err = c.cfg.Client.GetAccountInfoWithOpts(ctx, largest, &solanarpc.GetAccountInfoOpts{
			Encoding:   solana.EncodingBase64,
			Commitment: solanarpc.CommitmentConfirmed,
		})
		return err
	})
	if err != nil {
		if errors.Is(err, solanarpc.ErrNotFound) {
			metrics.HolderLookupsTotal.WithLabelValues("empty").Inc()
			return solana.PublicKey{}, false, nil
		}
		metrics.HolderLookupsTotal.WithLabelValues("error").Inc()
		return solana.PublicKey{}, false, fmt.Errorf("failed to get token account %s: %w", largest, err)
	}
	if info.Value == nil {
		metrics.HolderLookupsTotal.WithLabelValues("empty").Inc()
		return solana.PublicKey{}, false, nil
	}

	var acc token.Account
	if err := bin.NewBinDecoder(info.Value.Data.GetBinary()).Decode(&acc); err != nil {
		metrics.HolderLookupsTotal.WithLabelValues("error").Inc()
		return solana.PublicKey{}, false, fmt.Errorf("failed to decode token account %s: %w", largest, err)
	}

	metrics.HolderLookupsTotal.WithLabelValues("ok").Inc()
	return acc.Owner, true, nil
}

func (c *RPC) AccountsExist(ctx context.Context, addrs []solana.PublicKey) ([]bool, error) {
	out := make([]bool, len(addrs))
	for start := 0; start < len(addrs); start += maxMultipleAccounts {
		end := min(start+maxMultipleAccounts, len(addrs))
		chunk := addrs[start:end]

		var res *solanarpc.GetMultipleAccountsResult
		err := retry.Do(ctx, c.cfg.Retry, func() error {
			var err error
			res, err = c.cfg.Client.GetMultipleAccounts(ctx, chunk...)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to get accounts [%d:%d]: %w", start, end, err)
		}
		for i, acc := range res.Value {
			out[start+i] = acc != nil
		}
	}
	return out, nil
}

func (c *RPC) Balance(ctx context.Context, addr solana.PublicKey) (uint64, error) {
	var res *solanarpc.GetBalanceResult
	err := retry.Do(ctx, c.cfg.Retry, func() error {
		var err error
		res, err = c.cfg.Client.GetBalance(ctx, addr, solanarpc.CommitmentConfirmed)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get balance of %s: %w", addr, err)
	}
	return res.Value, nil
}

func (c *RPC) TokenAccountsByOwner(ctx context.Context, owner solana.PublicKey) ([]TokenAccount, error) {
	var res *solanarpc.GetTokenAccountsResult
	err := retry.Do(ctx, c.cfg.Retry, func() error {
		var err error
		res, err = c.cfg.Client.GetTokenAccountsByOwner(
			ctx,
			owner,
			&solanarpc.GetTokenAccountsConfig{ProgramId: token.ProgramID.ToPointer()},
			&solanarpc.GetTokenAccountsOpts{Encoding: solana.EncodingBase64},
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get token accounts of %s: %w", owner, err)
	}

	accounts := make([]TokenAccount, 0, len(res.Value))
	for _, v := range res.Value {
		var acc token.Account
		if err := bin.NewBinDecoder(v.Account.Data.GetBinary()).Decode(&acc); err != nil {
			c.log.Warn("ledger: skipping undecodable token account", "account", v.Pubkey, "error", err)
			continue
		}
		accounts = append(accounts, TokenAccount{
			Address: v.Pubkey,
			Mint:    acc.Mint,
			Amount:  acc.Amount,
		})
	}
	return accounts, nil
}

func (c *RPC) MintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error) {
	var res *solanarpc.GetTokenSupplyResult
	err := retry.Do(ctx, c.cfg.Retry, func() error {
		var err error
		res, err = c.cfg.Client.GetTokenSupply(ctx, mint, solanarpc.CommitmentConfirmed)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get token supply of %s: %w", mint, err)
	}
	return res.Value.Decimals, nil
}

func (c *RPC) RentExemptBalance(ctx context.Context, dataSize uint64) (uint64, error) {
	var lamports uint64
	err := retry.Do(ctx, c.cfg.Retry, func() error {
		var err error
		lamports, err = c.cfg.Client.GetMinimumBalanceForRentExemption(ctx, dataSize, solanarpc.CommitmentConfirmed)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get rent-exempt minimum for %d bytes: %w", dataSize, err)
	}
	return lamports, nil
}

func (c *RPC) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	var res *solanarpc.GetLatestBlockhashResult
	err := retry.Do(ctx, c.cfg.Retry, func() error {
		var err error
		res, err = c.cfg.Client.GetLatestBlockhash(ctx, solanarpc.CommitmentConfirmed)
		return err
	})
	if err != nil {
		return solana.Hash{}, fmt.Errorf("failed to get latest blockhash: %w", err)
	}
	return res.Value.Blockhash, nil
}

func (c *RPC) SubmitAndConfirm(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	start := c.cfg.Clock.Now()

	// Submitted exactly once. A retried submission of a spend is a
	// double-spend attempt from the author's point of view even when the
	// ledger would reject it.
	sig, err := c.cfg.Client.SendTransactionWithOpts(ctx, tx, solanarpc.TransactionOpts{
		PreflightCommitment: solanarpc.CommitmentConfirmed,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to submit transaction: %w", err)
	}

	deadline := start.Add(c.cfg.ConfirmTimeout)
	for {
		select {
		case <-ctx.Done():
			return sig, fmt.Errorf("confirmation of %s interrupted: %w", sig, ctx.Err())
		case <-c.cfg.Clock.After(c.cfg.ConfirmPollInterval):
		}

		res, err := c.cfg.Client.GetSignatureStatuses(ctx, false, sig)
		if err != nil {
			c.log.Debug("ledger: signature status poll failed", "signature", sig, "error", err)
		} else if len(res.Value) > 0 && res.Value[0] != nil {
			st := res.Value[0]
			if st.Err != nil {
				return sig, fmt.Errorf("transaction %s failed on chain: %v", sig, st.Err)
			}
			if st.ConfirmationStatus == solanarpc.ConfirmationStatusConfirmed ||
				st.ConfirmationStatus == solanarpc.ConfirmationStatusFinalized {
				metrics.ConfirmDuration.Observe(c.cfg.Clock.Since(start).Seconds())
				return sig, nil
			}
		}

		if c.cfg.Clock.Now().After(deadline) {
			return sig, fmt.Errorf("transaction %s not confirmed within %s", sig, c.cfg.ConfirmTimeout)
		}
	}
}
