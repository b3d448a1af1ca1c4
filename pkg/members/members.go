// Package members reads the registered-member roster: externally maintained
// reputation scores plus each member's linked wallets. The distribution core
// only ever reads this data.
package members

import "context"

// Wallet is a ledger address linked to a member.
type Wallet struct {
	Address string
	Primary bool
}

// Member is a registered member with a precomputed score.
type Member struct {
	ID      string
	Score   float64
	Wallets []Wallet
}

// PayoutAddress resolves the member's designated primary address, falling
// back to the first linked wallet. ok is false when no wallet is linked.
func (m Member) PayoutAddress() (string, bool) {
	for _, w := range m.Wallets {
		if w.Primary {
			return w.Address, true
		}
	}
	if len(m.Wallets) > 0 {
		return m.Wallets[0].Address, true
	}
	return "", false
}

// Provider lists registered members and their scores.
type Provider interface {
	ListMembers(ctx context.Context) ([]Member, error)
}
