package weights

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/spraydrop/pkg/escrow"
	"github.com/malbeclabs/spraydrop/pkg/ledger"
	"github.com/malbeclabs/spraydrop/pkg/members"
	"github.com/malbeclabs/spraydrop/pkg/testutil"
)

type mockLedger struct {
	mu                sync.Mutex
	largestHolderFunc func(ctx context.Context, mint solana.PublicKey) (solana.PublicKey, bool, error)
	lookups           int
}

func (m *mockLedger) LargestHolder(ctx context.Context, mint solana.PublicKey) (solana.PublicKey, bool, error) {
	m.mu.Lock()
	m.lookups++
	m.mu.Unlock()
	if m.largestHolderFunc != nil {
		return m.largestHolderFunc(ctx, mint)
	}
	return solana.PublicKey{}, false, nil
}

func (m *mockLedger) AccountsExist(ctx context.Context, addrs []solana.PublicKey) ([]bool, error) {
	return make([]bool, len(addrs)), nil
}

func (m *mockLedger) Balance(ctx context.Context, addr solana.PublicKey) (uint64, error) {
	return 0, nil
}

func (m *mockLedger) TokenAccountsByOwner(ctx context.Context, owner solana.PublicKey) ([]ledger.TokenAccount, error) {
	return nil, nil
}

func (m *mockLedger) MintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error) {
	return 0, nil
}

func (m *mockLedger) RentExemptBalance(ctx context.Context, dataSize uint64) (uint64, error) {
	return 0, nil
}

func (m *mockLedger) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	return solana.Hash{}, nil
}

func (m *mockLedger) SubmitAndConfirm(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	return solana.Signature{}, errors.New("no writes expected")
}

type mockMembers struct {
	listFunc func(ctx context.Context) ([]members.Member, error)
}

func (m *mockMembers) ListMembers(ctx context.Context) ([]members.Member, error) {
	return m.listFunc(ctx)
}

func testKey(t *testing.T) solana.PublicKey {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return key.PublicKey()
}

func newTestResolver(t *testing.T, cfg ResolverConfig) *Resolver {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = testutil.NewLogger()
	}
	if cfg.Escrow == nil {
		f, err := escrow.NewFilter()
		require.NoError(t, err)
		cfg.Escrow = f
	}
	if cfg.Collections == nil {
		cfg.Collections = NewCollectionRegistry(nil)
	}
	r, err := NewResolver(cfg)
	require.NoError(t, err)
	return r
}

func TestDrop_Weights_NewResolver(t *testing.T) {
	t.Parallel()

	t.Run("missing logger", func(t *testing.T) {
		t.Parallel()
		r, err := NewResolver(ResolverConfig{Ledger: &mockLedger{}})
		require.Error(t, err)
		require.Nil(t, r)
		require.Contains(t, err.Error(), "logger is required")
	})

	t.Run("missing ledger", func(t *testing.T) {
		t.Parallel()
		r, err := NewResolver(ResolverConfig{Logger: testutil.NewLogger()})
		require.Error(t, err)
		require.Nil(t, r)
		require.Contains(t, err.Error(), "ledger client is required")
	})
}

func TestDrop_Weights_MemberSource(t *testing.T) {
	t.Parallel()

	addrA := testKey(t)
	addrB := testKey(t)

	provider := &mockMembers{listFunc: func(ctx context.Context) ([]members.Member, error) {
		return []members.Member{
			{ID: "m1", Score: 12.7, Wallets: []members.Wallet{
				{Address: addrA.String()},
				{Address: addrB.String(), Primary: true},
			}},
			{ID: "m2", Score: 5, Wallets: []members.Wallet{{Address: addrA.String()}}},
			{ID: "m3", Score: 0, Wallets: []members.Wallet{{Address: addrA.String()}}},
			{ID: "m4", Score: 99}, // no linked wallet
			{ID: "m5", Score: 3, Wallets: []members.Wallet{{Address: "not base58 0OIl"}}},
		}, nil
	}}

	r := newTestResolver(t, ResolverConfig{
		Ledger:  &mockLedger{},
		Members: provider,
	})

	res, err := r.Resolve(context.Background(), Request{IncludeMembers: true})
	require.NoError(t, err)

	// m1 pays to its primary wallet with floor(12.7)=12; m2 pays to its
	// first wallet; m3 (zero score), m4 (no wallet), m5 (bad address) skip.
	require.Len(t, res.Recipients, 2)
	byAddr := map[string]uint64{}
	for _, rec := range res.Recipients {
		byAddr[rec.Address.String()] = rec.Weight
	}
	require.Equal(t, uint64(12), byAddr[addrB.String()])
	require.Equal(t, uint64(5), byAddr[addrA.String()])
	require.Equal(t, uint64(17), res.TotalWeight)
}

func TestDrop_Weights_MemberSourceRequiresProvider(t *testing.T) {
	t.Parallel()

	r := newTestResolver(t, ResolverConfig{Ledger: &mockLedger{}})
	res, err := r.Resolve(context.Background(), Request{IncludeMembers: true})
	require.Error(t, err)
	require.Nil(t, res)
	require.Contains(t, err.Error(), "no member provider")
}

func TestDrop_Weights_CollectionSource(t *testing.T) {
	t.Parallel()

	holder := testKey(t)
	escrowed := "1BWutmTvYPwDtmw9abTkS4Ssr8no61spGAvW1X6NDix"
	escrowedPK, err := solana.PublicKeyFromBase58(escrowed)
	require.NoError(t, err)

	mintHeld1 := testKey(t)
	mintHeld2 := testKey(t)
	mintListed := testKey(t)
	mintBurned := testKey(t)
	mintBroken := testKey(t)

	ml := &mockLedger{largestHolderFunc: func(ctx context.Context, mint solana.PublicKey) (solana.PublicKey, bool, error) {
		switch mint {
		case mintHeld1, mintHeld2:
			return holder, true, nil
		case mintListed:
			return escrowedPK, true, nil
		case mintBurned:
			return solana.PublicKey{}, false, nil
		default:
			return solana.PublicKey{}, false, errors.New("rpc boom")
		}
	}}

	reg := NewCollectionRegistry(map[string][]solana.PublicKey{
		"apes": {mintHeld1, mintListed, mintBurned},
		"degs": {mintHeld2, mintBroken},
	})

	r := newTestResolver(t, ResolverConfig{
		Ledger:      ml,
		Collections: reg,
	})

	res, err := r.Resolve(context.Background(), Request{CollectionIDs: []string{"apes", "degs", "unknown"}})
	require.NoError(t, err)

	// Only the two genuinely held assets count; the listed asset is
	// escrow-excluded, the burned one has no holder, the broken lookup and
	// the unknown collection are skipped without aborting.
	require.Len(t, res.Recipients, 1)
	require.Equal(t, holder, res.Recipients[0].Address)
	require.Equal(t, uint64(2), res.Recipients[0].Weight)
	require.Equal(t, uint64(2), res.TotalWeight)
	require.Equal(t, 5, ml.lookups)
}

func TestDrop_Weights_SumInvariantAndOrderIndependence(t *testing.T) {
	t.Parallel()

	holder := testKey(t)
	mints := make([]solana.PublicKey, 20)
	for i := range mints {
		mints[i] = testKey(t)
	}

	memberAddr := holder // member weight lands on the same address as holdings

	provider := &mockMembers{listFunc: func(ctx context.Context) ([]members.Member, error) {
		return []members.Member{
			{ID: "m1", Score: 7, Wallets: []members.Wallet{{Address: memberAddr.String(), Primary: true}}},
		}, nil
	}}

	ml := &mockLedger{largestHolderFunc: func(ctx context.Context, mint solana.PublicKey) (solana.PublicKey, bool, error) {
		return holder, true, nil
	}}

	reg := NewCollectionRegistry(map[string][]solana.PublicKey{
		"a": mints[:12],
		"b": mints[12:],
	})

	orders := [][]string{{"a", "b"}, {"b", "a"}}
	var results []*Result
	for _, order := range orders {
		r := newTestResolver(t, ResolverConfig{
			Ledger:      ml,
			Members:     provider,
			Collections: reg,
			// Single worker in one run, many in the other, to show the
			// outcome is schedule independent.
			MaxConcurrency:   1 + len(results)*7,
			LookupsPerSecond: 10_000,
		})
		res, err := r.Resolve(context.Background(), Request{IncludeMembers: true, CollectionIDs: order})
		require.NoError(t, err)
		results = append(results, res)
	}

	for _, res := range results {
		var sum uint64
		for _, rec := range res.Recipients {
			sum += rec.Weight
		}
		require.Equal(t, res.TotalWeight, sum)
		require.Equal(t, uint64(27), res.TotalWeight) // 20 holdings + floor(7)
	}
	require.Equal(t, results[0], results[1])
}

func TestDrop_Weights_EmptyResultIsValid(t *testing.T) {
	t.Parallel()

	r := newTestResolver(t, ResolverConfig{Ledger: &mockLedger{}})
	res, err := r.Resolve(context.Background(), Request{})
	require.NoError(t, err)
	require.Empty(t, res.Recipients)
	require.Zero(t, res.TotalWeight)
}
