// Package weights aggregates a recipient -> weight mapping from independent
// membership sources: registered-member scores and per-collection holder
// snapshots taken from the ledger. Aggregation is additive and commutative,
// so source processing order never changes the outcome.
package weights

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/malbeclabs/spraydrop/pkg/escrow"
	"github.com/malbeclabs/spraydrop/pkg/ledger"
	"github.com/malbeclabs/spraydrop/pkg/members"
)

// Recipient is an address with its accumulated weight. Immutable once the
// resolver returns it.
type Recipient struct {
	Address solana.PublicKey `json:"address"`
	Weight  uint64           `json:"weight"`
}

// Result is the resolved recipient set. TotalWeight always equals the sum
// of the individual weights.
type Result struct {
	Recipients  []Recipient `json:"recipients"`
	TotalWeight uint64      `json:"totalWeight"`
}

// Request selects which membership sources contribute weight.
type Request struct {
	IncludeMembers bool
	CollectionIDs  []string
}

type ResolverConfig struct {
	Logger      *slog.Logger
	Ledger      ledger.Client
	Escrow      *escrow.Filter
	Members     members.Provider // optional; required only when a request includes members
	Collections *CollectionRegistry

	// MaxConcurrency bounds parallel largest-holder lookups.
	MaxConcurrency int

	// LookupsPerSecond throttles ledger reads to stay under RPC rate limits.
	LookupsPerSecond float64
}

func (cfg *ResolverConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Ledger == nil {
		return errors.New("ledger client is required")
	}
	if cfg.Escrow == nil {
		return errors.New("escrow filter is required")
	}
	if cfg.Collections == nil {
		return errors.New("collection registry is required")
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 8
	}
	if cfg.LookupsPerSecond <= 0 {
		cfg.LookupsPerSecond = 20
	}
	return nil
}

type Resolver struct {
	log *slog.Logger
	cfg ResolverConfig
}

func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Resolver{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// Resolve aggregates all requested sources into a single recipient set.
// An empty result is valid: it means no holders were found, and the caller
// must treat it as a terminal, non-fatal condition.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Result, error) {
	acc := newAccumulator()

	if req.IncludeMembers {
		if err := r.resolveMembers(ctx, acc); err != nil {
			return nil, err
		}
	}

	if len(req.CollectionIDs) > 0 {
		if err := r.resolveCollections(ctx, req.CollectionIDs, acc); err != nil {
			return nil, err
		}
	}

	return acc.result(), nil
}

func (r *Resolver) resolveMembers(ctx context.Context, acc *accumulator) error {
	if r.cfg.Members == nil {
		return errors.New("member source requested but no member provider configured")
	}

	roster, err := r.cfg.Members.ListMembers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list members: %w", err)
	}

	added := 0
	for _, m := range roster {
		if m.Score <= 0 {
			continue
		}
		addrStr, ok := m.PayoutAddress()
		if !ok {
			continue
		}
		addr, err := solana.PublicKeyFromBase58(addrStr)
		if err != nil {
			r.log.Warn("weights: member has invalid payout address, skipping", "member", m.ID, "address", addrStr)
			continue
		}
		acc.add(addr, uint64(math.Floor(m.Score)))
		added++
	}
	r.log.Debug("weights: member source resolved", "members", len(roster), "contributing", added)
	return nil
}

func (r *Resolver) resolveCollections(ctx context.Context, ids []string, acc *accumulator) error {
	var assets []solana.PublicKey
	for _, id := range ids {
		collection, ok := r.cfg.Collections.Assets(id)
		if !ok {
			r.log.Warn("weights: unknown collection, skipping", "collection", id)
			continue
		}
		assets = append(assets, collection...)
	}
	if len(assets) == 0 {
		return nil
	}

	limiter := rate.NewLimiter(rate.Limit(r.cfg.LookupsPerSecond), r.cfg.MaxConcurrency)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.MaxConcurrency)
	for _, asset := range assets {
		g.Go(func() error {
			if err := limiter.Wait(gctx); err != nil {
				return err
			}
			owner, found, err := r.cfg.Ledger.LargestHolder(gctx, asset)
			if err != nil {
				// A single unreadable asset must not abort the snapshot.
				r.log.Warn("weights: holder lookup failed, skipping asset", "asset", asset, "error", err)
				return nil
			}
			if !found {
				return nil
			}
			if r.cfg.Escrow.IsEscrow(owner.String()) {
				// Listed on a marketplace, not actively held.
				return nil
			}
			acc.add(owner, 1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("holder snapshot interrupted: %w", err)
	}

	r.log.Debug("weights: collection sources resolved", "collections", len(ids), "assets", len(assets))
	return nil
}

// accumulator folds weight contributions into an address-keyed map. Safe
// for concurrent contributions; duplicate contributions to the same address
// accumulate rather than overwrite.
type accumulator struct {
	mu      sync.Mutex
	weights map[solana.PublicKey]uint64
}

func newAccumulator() *accumulator {
	return &accumulator{weights: make(map[solana.PublicKey]uint64)}
}

func (a *accumulator) add(addr solana.PublicKey, weight uint64) {
	if weight == 0 {
		return
	}
	a.mu.Lock()
	a.weights[addr] += weight
	a.mu.Unlock()
}

// result snapshots the accumulated weights sorted by address. The ordering
// is deterministic but carries no priority semantics.
func (a *accumulator) result() *Result {
	a.mu.Lock()
	defer a.mu.Unlock()

	recipients := make([]Recipient, 0, len(a.weights))
	var total uint64
	for addr, w := range a.weights {
		recipients = append(recipients, Recipient{Address: addr, Weight: w})
		total += w
	}
	sort.Slice(recipients, func(i, j int) bool {
		return recipients[i].Address.String() < recipients[j].Address.String()
	})
	return &Result{Recipients: recipients, TotalWeight: total}
}
