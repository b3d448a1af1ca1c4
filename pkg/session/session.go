// Package session runs the distribution workflow: fund the custodial
// account in one atomic operator-signed transaction, pay recipients in
// fixed-size custodial-signed batches with per-batch failure isolation,
// then sweep residual balances back to the operator. Phase boundaries are
// hard; the workflow never rolls back across them.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	"github.com/malbeclabs/spraydrop/pkg/custody"
	"github.com/malbeclabs/spraydrop/pkg/ledger"
	"github.com/malbeclabs/spraydrop/pkg/plan"
)

// Phase is the session lifecycle phase.
type Phase string

const (
	PhasePlanned      Phase = "PLANNED"
	PhaseFunded       Phase = "FUNDED"
	PhaseDistributing Phase = "DISTRIBUTING"
	PhaseCleanedUp    Phase = "CLEANED_UP"
	PhaseAborted      Phase = "ABORTED"
)

// DefaultMemoTag is the human-readable tag each batch transaction carries.
const DefaultMemoTag = "spraydrop:v1"

// BatchResult records one batch's outcome. The log entry of a failed batch
// preserves its payout list so an operator can re-derive and manually
// re-attempt that group; there is no automatic retry.
type BatchResult struct {
	BatchIndex int           `json:"batchIndex"`
	Payouts    []plan.Payout `json:"payouts"`
	Signature  string        `json:"signature,omitempty"`
	Err        string        `json:"error,omitempty"`
}

type Config struct {
	Logger   *slog.Logger
	Ledger   ledger.Client
	Plan     *plan.Plan
	Key      *custody.Key
	Operator solana.PrivateKey

	// Mint is the distributed SPL token mint. Zero means the native
	// currency is distributed.
	Mint solana.PublicKey

	// MemoTag overrides DefaultMemoTag when non-empty.
	MemoTag string

	// ComputeUnitLimit and ComputeUnitPrice feed the compute-budget
	// directive that leads every batch transaction.
	ComputeUnitLimit uint32
	ComputeUnitPrice uint64

	// FeeReserve is the lamport balance left on the custodial account at
	// cleanup so the sweep transaction itself can pay its fee.
	FeeReserve uint64
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Ledger == nil {
		return errors.New("ledger client is required")
	}
	if cfg.Plan == nil {
		return errors.New("plan is required")
	}
	if cfg.Key == nil {
		return errors.New("custodial key is required")
	}
	if cfg.Operator == nil {
		return errors.New("operator key is required")
	}
	if cfg.Plan.IsNativeAsset == !cfg.Mint.IsZero() {
		return errors.New("plan asset kind does not match mint")
	}
	if cfg.MemoTag == "" {
		cfg.MemoTag = DefaultMemoTag
	}
	if cfg.ComputeUnitLimit == 0 {
		cfg.ComputeUnitLimit = 400_000
	}
	if cfg.ComputeUnitPrice == 0 {
		cfg.ComputeUnitPrice = 1_000
	}
	if cfg.FeeReserve == 0 {
		cfg.FeeReserve = plan.FeePerBatch
	}
	return nil
}

// Session is one operator-initiated distribution run. Transient and
// memory-only: if the process dies mid-run, the custodial key backup is
// the recovery path.
type Session struct {
	log *slog.Logger
	cfg Config
	id  uuid.UUID

	mu         sync.Mutex
	phase      Phase
	batchLog   []BatchResult
	fundingSig solana.Signature
}

func New(cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Session{
		log:   cfg.Logger,
		cfg:   cfg,
		id:    uuid.New(),
		phase: PhasePlanned,
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() uuid.UUID { return s.id }

// Status is a read-only snapshot of the session.
type Status struct {
	ID         uuid.UUID         `json:"id"`
	Phase      Phase             `json:"phase"`
	Estimate   plan.CostEstimate `json:"estimate"`
	BatchCount int               `json:"batchCount"`
	FundingSig string            `json:"fundingSignature,omitempty"`
	BatchLog   []BatchResult     `json:"batchLog"`
}

// Status snapshots the phase and batch log.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	logCopy := make([]BatchResult, len(s.batchLog))
	copy(logCopy, s.batchLog)

	st := Status{
		ID:         s.id,
		Phase:      s.phase,
		Estimate:   s.cfg.Plan.Estimate,
		BatchCount: s.cfg.Plan.BatchCount(),
		BatchLog:   logCopy,
	}
	if !s.fundingSig.IsZero() {
		st.FundingSig = s.fundingSig.String()
	}
	return st
}

func (s *Session) currentPhase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Session) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

func (s *Session) appendBatch(r BatchResult) {
	s.mu.Lock()
	s.batchLog = append(s.batchLog, r)
	s.mu.Unlock()
}

// custodialATA returns the custodial account's token-holding address for
// the distributed mint.
func (s *Session) custodialATA() (solana.PublicKey, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(s.cfg.Key.PublicKey(), s.cfg.Mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive custodial token account: %w", err)
	}
	return ata, nil
}

// signWithOperator signs a transaction with the operator key.
func (s *Session) signWithOperator(tx *solana.Transaction) error {
	operatorPub := s.cfg.Operator.PublicKey()
	if _, err := tx.Sign(func(pub solana.PublicKey) *solana.PrivateKey {
		if pub.Equals(operatorPub) {
			return &s.cfg.Operator
		}
		return nil
	}); err != nil {
		return fmt.Errorf("failed to sign with operator key: %w", err)
	}
	return nil
}

// signWithCustodial signs a transaction with the custodial key only. The
// operator never co-signs distribution instructions; decoupling the
// operator from per-batch approval is the reason the custodial key exists.
func (s *Session) signWithCustodial(tx *solana.Transaction) error {
	if _, err := tx.Sign(s.cfg.Key.Sign); err != nil {
		return fmt.Errorf("failed to sign with custodial key: %w", err)
	}
	return nil
}
