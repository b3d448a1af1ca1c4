// Package custody owns the one-shot signing key that holds and disburses a
// session's funds. The key lives only in memory; the exported backup bytes
// are the sole recovery mechanism, so funding is gated on the operator
// acknowledging the backup.
package custody

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
)

// State is the custodial key lifecycle state.
type State string

const (
	StateUngenerated State = "UNGENERATED"
	StateGenerated   State = "GENERATED"
	StateFunded      State = "FUNDED"
	StateRetired     State = "RETIRED"
)

var (
	ErrNotGenerated       = errors.New("custodial key not generated")
	ErrAlreadyExported    = errors.New("custodial key backup already exported")
	ErrBackupNotExported  = errors.New("custodial key backup not exported")
	ErrBackupNotConfirmed = errors.New("custodial key backup not acknowledged")
)

// Key is the custodial keypair with its lifecycle. Never reused across
// sessions.
type Key struct {
	mu           sync.Mutex
	state        State
	priv         solana.PrivateKey
	exported     bool
	acknowledged bool
}

// Generate creates a fresh session-scoped custodial key.
func Generate() (*Key, error) {
	priv, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate custodial key: %w", err)
	}
	return &Key{state: StateGenerated, priv: priv}, nil
}

// State returns the current lifecycle state.
func (k *Key) State() State {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state
}

// PublicKey returns the custodial account address.
func (k *Key) PublicKey() solana.PublicKey {
	return k.priv.PublicKey()
}

// Sign produces the signer callback for transactions spending from the
// custodial account.
func (k *Key) Sign(pub solana.PublicKey) *solana.PrivateKey {
	if pub.Equals(k.priv.PublicKey()) {
		return &k.priv
	}
	return nil
}

// ExportForBackup serializes the private key in solana-keygen JSON format
// (an array of byte values) for the operator's one-time download. A second
// export attempt fails: there is exactly one copy outside process memory.
func (k *Key) ExportForBackup() ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.state == StateUngenerated {
		return nil, ErrNotGenerated
	}
	if k.exported {
		return nil, ErrAlreadyExported
	}

	raw := make([]int, len(k.priv))
	for i, b := range k.priv {
		raw[i] = int(b)
	}
	out, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize custodial key: %w", err)
	}
	k.exported = true
	return out, nil
}

// AcknowledgeBackup records that the operator has saved the exported
// backup. Funding refuses to start without this.
func (k *Key) AcknowledgeBackup() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if !k.exported {
		return ErrBackupNotExported
	}
	k.acknowledged = true
	return nil
}

// ReadyToFund reports whether the backup precondition is satisfied.
func (k *Key) ReadyToFund() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.state != StateGenerated {
		return fmt.Errorf("custodial key in state %s cannot be funded", k.state)
	}
	if !k.acknowledged {
		return ErrBackupNotConfirmed
	}
	return nil
}

// MarkFunded transitions GENERATED -> FUNDED after the funding transaction
// confirms.
func (k *Key) MarkFunded() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.state != StateGenerated {
		return fmt.Errorf("cannot fund custodial key in state %s", k.state)
	}
	k.state = StateFunded
	return nil
}

// Retire transitions to RETIRED after cleanup. The key is never used again.
func (k *Key) Retire() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.state = StateRetired
}
