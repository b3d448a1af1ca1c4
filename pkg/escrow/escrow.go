// Package escrow tracks known marketplace and escrow program addresses.
// An asset whose owner-of-record is one of these is listed for sale, not
// held, and must not count toward anyone's weight.
package escrow

import (
	"fmt"

	"github.com/mr-tron/base58"
)

// Known marketplace escrow authorities. Assets parked here are listings.
var defaultAddresses = []string{
	"1BWutmTvYPwDtmw9abTkS4Ssr8no61spGAvW1X6NDix",  // Magic Eden v1 escrow
	"GUfCR9mK6azb9vcpsxgXyj7XRPAKJd4KMHTTVvtncGgp", // Magic Eden v2 authority
	"3D49QorJyNaL4rcpiynbuS3pRH4Y7EXEM6v6ZGaqfFGK", // Solanart escrow
	"4pUQS4Jo2dsfWzt3VgHXy3H6RYnEDd11oWPiaM2rdAPw", // Alpha Art escrow
	"F4ghBzHFNgJxV4wEQDchU5i7n4XWWMBSaq7CuswGiVsr", // DigitalEyes escrow
}

// Filter answers whether an address is a known marketplace escrow.
type Filter struct {
	addresses map[string]struct{}
}

// NewFilter builds a filter over the built-in escrow set plus any extra
// addresses. Every address must be valid base58.
func NewFilter(extra ...string) (*Filter, error) {
	f := &Filter{addresses: make(map[string]struct{}, len(defaultAddresses)+len(extra))}
	for _, addr := range defaultAddresses {
		f.addresses[addr] = struct{}{}
	}
	for _, addr := range extra {
		if _, err := base58.Decode(addr); err != nil {
			return nil, fmt.Errorf("invalid escrow address %q: %w", addr, err)
		}
		f.addresses[addr] = struct{}{}
	}
	return f, nil
}

// IsEscrow reports whether the address belongs to a known escrow.
func (f *Filter) IsEscrow(address string) bool {
	_, ok := f.addresses[address]
	return ok
}

// Size returns the number of tracked escrow addresses.
func (f *Filter) Size() int {
	return len(f.addresses)
}
