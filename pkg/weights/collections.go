package weights

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/gagliardetto/solana-go"
)

// CollectionRegistry holds the fixed asset membership list of each
// collection that can contribute holder weight.
type CollectionRegistry struct {
	collections map[string][]solana.PublicKey
}

// LoadCollections reads a registry from a JSON file shaped as
// {"collection-id": ["mint", ...], ...}.
func LoadCollections(path string) (*CollectionRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read collections file: %w", err)
	}
	var raw map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse collections file: %w", err)
	}

	reg := &CollectionRegistry{collections: make(map[string][]solana.PublicKey, len(raw))}
	for id, mints := range raw {
		assets := make([]solana.PublicKey, 0, len(mints))
		for _, m := range mints {
			pk, err := solana.PublicKeyFromBase58(m)
			if err != nil {
				return nil, fmt.Errorf("collection %q: invalid mint %q: %w", id, m, err)
			}
			assets = append(assets, pk)
		}
		reg.collections[id] = assets
	}
	return reg, nil
}

// NewCollectionRegistry builds a registry from an in-memory mapping.
func NewCollectionRegistry(collections map[string][]solana.PublicKey) *CollectionRegistry {
	m := make(map[string][]solana.PublicKey, len(collections))
	for id, assets := range collections {
		m[id] = append([]solana.PublicKey(nil), assets...)
	}
	return &CollectionRegistry{collections: m}
}

// Assets returns the asset mints of a collection.
func (r *CollectionRegistry) Assets(id string) ([]solana.PublicKey, bool) {
	assets, ok := r.collections[id]
	return assets, ok
}

// IDs lists the registered collection identifiers.
func (r *CollectionRegistry) IDs() []string {
	ids := make([]string, 0, len(r.collections))
	for id := range r.collections {
		ids = append(ids, id)
	}
	return ids
}
