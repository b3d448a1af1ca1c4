// Package ledger wraps the subset of the Solana JSON-RPC surface the
// distribution workflow needs behind a mockable interface. Read calls go
// through the retry layer; submissions are sent exactly once.
package ledger

import (
	"context"

	"github.com/gagliardetto/solana-go"
)

// TokenAccount is a token-holding account owned by some wallet.
type TokenAccount struct {
	Address solana.PublicKey
	Mint    solana.PublicKey
	Amount  uint64
}

// Client is the ledger surface consumed by the resolver and the executors.
type Client interface {
	// LargestHolder returns the wallet that owns the largest token account
	// of the given mint. found is false when the mint has no funded account.
	LargestHolder(ctx context.Context, mint solana.PublicKey) (owner solana.PublicKey, found bool, err error)

	// AccountsExist reports, for each address, whether the account exists
	// on chain. The result is positional.
	AccountsExist(ctx context.Context, addrs []solana.PublicKey) ([]bool, error)

	// Balance returns the lamport balance of an account.
	Balance(ctx context.Context, addr solana.PublicKey) (uint64, error)

	// TokenAccountsByOwner enumerates the token accounts owned by a wallet.
	TokenAccountsByOwner(ctx context.Context, owner solana.PublicKey) ([]TokenAccount, error)

	// MintDecimals returns the decimal count of a token mint.
	MintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error)

	// RentExemptBalance returns the minimum lamport balance for an account
	// of the given data size to be rent exempt.
	RentExemptBalance(ctx context.Context, dataSize uint64) (uint64, error)

	// LatestBlockhash returns a recent blockhash usable for a new transaction.
	LatestBlockhash(ctx context.Context) (solana.Hash, error)

	// SubmitAndConfirm submits a fully signed transaction and blocks until
	// the ledger confirms it or the confirmation window elapses.
	SubmitAndConfirm(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
}

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL = 1_000_000_000

// LamportsToSOL converts lamports to SOL.
func LamportsToSOL(lamports uint64) float64 {
	return float64(lamports) / LamportsPerSOL
}

// SOLToLamports converts SOL to lamports.
func SOLToLamports(sol float64) uint64 {
	return uint64(sol * LamportsPerSOL)
}
