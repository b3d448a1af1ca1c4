package ledger_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/spraydrop/pkg/ledger"
	"github.com/malbeclabs/spraydrop/pkg/retry"
	"github.com/malbeclabs/spraydrop/pkg/testutil"
)

// nodeStub is a minimal JSON-RPC endpoint standing in for a Solana node.
// Each registered method handler receives the raw request params and returns
// the value to place in the response's result field.
type nodeStub struct {
	t *testing.T

	mu       sync.Mutex
	calls    map[string]int
	handlers map[string]func(params []json.RawMessage) (any, error)
}

func newNodeStub(t *testing.T) (*nodeStub, *solanarpc.Client) {
	s := &nodeStub{
		t:        t,
		calls:    make(map[string]int),
		handlers: make(map[string]func(params []json.RawMessage) (any, error)),
	}
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return s, solanarpc.New(srv.URL)
}

func (s *nodeStub) handle(method string, fn func(params []json.RawMessage) (any, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = fn
}

func (s *nodeStub) callCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func (s *nodeStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     json.RawMessage   `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.t.Errorf("failed to decode rpc request: %v", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.calls[req.Method]++
	fn := s.handlers[req.Method]
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	if fn == nil {
		s.t.Errorf("unexpected rpc method %q", req.Method)
		_ = enc.Encode(map[string]any{
			"jsonrpc": "2.0", "id": req.ID,
			"error": map[string]any{"code": -32601, "message": "method not found"},
		})
		return
	}

	result, err := fn(req.Params)
	if err != nil {
		_ = enc.Encode(map[string]any{
			"jsonrpc": "2.0", "id": req.ID,
			"error": map[string]any{"code": -32000, "message": err.Error()},
		})
		return
	}
	_ = enc.Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
}

func pendingStatus() any {
	return map[string]any{
		"context": map[string]any{"slot": 1},
		"value":   []any{nil},
	}
}

func statusWith(confirmation string, txErr any) any {
	return map[string]any{
		"context": map[string]any{"slot": 1},
		"value": []any{map[string]any{
			"slot":               1,
			"confirmations":      1,
			"err":                txErr,
			"confirmationStatus": confirmation,
		}},
	}
}

func signedTransfer(t *testing.T) *solana.Transaction {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	dest, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	ix := system.NewTransferInstruction(1, key.PublicKey(), dest.PublicKey()).Build()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{ix},
		solana.Hash{},
		solana.TransactionPayer(key.PublicKey()),
	)
	require.NoError(t, err)
	_, err = tx.Sign(func(pub solana.PublicKey) *solana.PrivateKey {
		if pub.Equals(key.PublicKey()) {
			return &key
		}
		return nil
	})
	require.NoError(t, err)
	return tx
}

func newTestRPC(t *testing.T, client *solanarpc.Client, confirmTimeout, pollInterval time.Duration) *ledger.RPC {
	t.Helper()
	rpc, err := ledger.NewRPC(ledger.RPCConfig{
		Logger:              testutil.NewLogger(),
		Client:              client,
		Clock:               clockwork.NewRealClock(),
		ConfirmTimeout:      confirmTimeout,
		ConfirmPollInterval: pollInterval,
		Retry:               retry.Config{MaxAttempts: 1, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
	})
	require.NoError(t, err)
	return rpc
}

func TestDrop_Ledger_SubmitAndConfirm(t *testing.T) {
	t.Parallel()

	t.Run("timeout is a failure not a hang", func(t *testing.T) {
		t.Parallel()

		stub, client := newNodeStub(t)
		tx := signedTransfer(t)
		stub.handle("sendTransaction", func([]json.RawMessage) (any, error) {
			return tx.Signatures[0].String(), nil
		})
		stub.handle("getSignatureStatuses", func([]json.RawMessage) (any, error) {
			return pendingStatus(), nil
		})

		rpc := newTestRPC(t, client, 400*time.Millisecond, 25*time.Millisecond)

		start := time.Now()
		sig, err := rpc.SubmitAndConfirm(context.Background(), tx)
		require.Error(t, err)
		require.Contains(t, err.Error(), "not confirmed within")
		require.Equal(t, tx.Signatures[0], sig)
		require.Less(t, time.Since(start), 5*time.Second)
		require.Equal(t, 1, stub.callCount("sendTransaction"))
	})

	t.Run("on-chain error ends polling", func(t *testing.T) {
		t.Parallel()

		stub, client := newNodeStub(t)
		tx := signedTransfer(t)
		stub.handle("sendTransaction", func([]json.RawMessage) (any, error) {
			return tx.Signatures[0].String(), nil
		})
		stub.handle("getSignatureStatuses", func([]json.RawMessage) (any, error) {
			return statusWith("confirmed", map[string]any{
				"InstructionError": []any{0, map[string]any{"Custom": 1}},
			}), nil
		})

		rpc := newTestRPC(t, client, 30*time.Second, 10*time.Millisecond)

		sig, err := rpc.SubmitAndConfirm(context.Background(), tx)
		require.Error(t, err)
		require.Contains(t, err.Error(), "failed on chain")
		require.Equal(t, tx.Signatures[0], sig)
		require.Equal(t, 1, stub.callCount("getSignatureStatuses"))
	})

	t.Run("confirmed after pending polls", func(t *testing.T) {
		t.Parallel()

		stub, client := newNodeStub(t)
		tx := signedTransfer(t)
		stub.handle("sendTransaction", func([]json.RawMessage) (any, error) {
			return tx.Signatures[0].String(), nil
		})
		var polls int
		var pollMu sync.Mutex
		stub.handle("getSignatureStatuses", func([]json.RawMessage) (any, error) {
			pollMu.Lock()
			defer pollMu.Unlock()
			polls++
			if polls < 3 {
				return pendingStatus(), nil
			}
			return statusWith("confirmed", nil), nil
		})

		rpc := newTestRPC(t, client, 30*time.Second, 10*time.Millisecond)

		sig, err := rpc.SubmitAndConfirm(context.Background(), tx)
		require.NoError(t, err)
		require.Equal(t, tx.Signatures[0], sig)
		require.GreaterOrEqual(t, stub.callCount("getSignatureStatuses"), 3)
	})

	t.Run("submit failure returns without polling", func(t *testing.T) {
		t.Parallel()

		stub, client := newNodeStub(t)
		tx := signedTransfer(t)
		stub.handle("sendTransaction", func([]json.RawMessage) (any, error) {
			return nil, fmt.Errorf("Transaction simulation failed")
		})

		rpc := newTestRPC(t, client, 30*time.Second, 10*time.Millisecond)

		_, err := rpc.SubmitAndConfirm(context.Background(), tx)
		require.Error(t, err)
		require.Contains(t, err.Error(), "failed to submit transaction")
		require.Equal(t, 0, stub.callCount("getSignatureStatuses"))
	})

	t.Run("context cancellation interrupts polling", func(t *testing.T) {
		t.Parallel()

		stub, client := newNodeStub(t)
		tx := signedTransfer(t)
		stub.handle("sendTransaction", func([]json.RawMessage) (any, error) {
			return tx.Signatures[0].String(), nil
		})
		stub.handle("getSignatureStatuses", func([]json.RawMessage) (any, error) {
			return pendingStatus(), nil
		})

		rpc := newTestRPC(t, client, 30*time.Second, 10*time.Millisecond)

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		start := time.Now()
		_, err := rpc.SubmitAndConfirm(ctx, tx)
		require.Error(t, err)
		require.ErrorIs(t, err, context.DeadlineExceeded)
		require.Less(t, time.Since(start), 5*time.Second)
	})
}

func TestDrop_Ledger_AccountsExist(t *testing.T) {
	t.Parallel()

	t.Run("chunks requests at the node limit", func(t *testing.T) {
		t.Parallel()

		addrs := make([]solana.PublicKey, 230)
		existing := make(map[string]bool)
		for i := range addrs {
			key, err := solana.NewRandomPrivateKey()
			require.NoError(t, err)
			addrs[i] = key.PublicKey()
			if i%3 == 0 {
				existing[addrs[i].String()] = true
			}
		}

		stub, client := newNodeStub(t)
		var chunkSizes []int
		var chunkMu sync.Mutex
		stub.handle("getMultipleAccounts", func(params []json.RawMessage) (any, error) {
			var requested []string
			if err := json.Unmarshal(params[0], &requested); err != nil {
				return nil, fmt.Errorf("bad params: %v", err)
			}
			chunkMu.Lock()
			chunkSizes = append(chunkSizes, len(requested))
			chunkMu.Unlock()

			value := make([]any, len(requested))
			for i, addr := range requested {
				if existing[addr] {
					value[i] = map[string]any{
						"lamports":   1,
						"owner":      solana.SystemProgramID.String(),
						"data":       []any{"", "base64"},
						"executable": false,
						"rentEpoch":  0,
					}
				}
			}
			return map[string]any{
				"context": map[string]any{"slot": 1},
				"value":   value,
			}, nil
		})

		rpc := newTestRPC(t, client, time.Second, time.Millisecond)

		out, err := rpc.AccountsExist(context.Background(), addrs)
		require.NoError(t, err)
		require.Len(t, out, len(addrs))

		chunkMu.Lock()
		require.Equal(t, []int{100, 100, 30}, chunkSizes)
		chunkMu.Unlock()

		for i, addr := range addrs {
			require.Equal(t, existing[addr.String()], out[i], "address %d", i)
		}
	})

	t.Run("empty input makes no requests", func(t *testing.T) {
		t.Parallel()

		stub, client := newNodeStub(t)
		rpc := newTestRPC(t, client, time.Second, time.Millisecond)

		out, err := rpc.AccountsExist(context.Background(), nil)
		require.NoError(t, err)
		require.Empty(t, out)
		require.Equal(t, 0, stub.callCount("getMultipleAccounts"))
	})
}
