package escrow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDrop_Escrow_NewFilter(t *testing.T) {
	t.Parallel()

	t.Run("builds with defaults", func(t *testing.T) {
		t.Parallel()
		f, err := NewFilter()
		require.NoError(t, err)
		require.Equal(t, len(defaultAddresses), f.Size())
	})

	t.Run("accepts extra base58 addresses", func(t *testing.T) {
		t.Parallel()
		f, err := NewFilter("11111111111111111111111111111111")
		require.NoError(t, err)
		require.True(t, f.IsEscrow("11111111111111111111111111111111"))
	})

	t.Run("rejects non-base58 extras", func(t *testing.T) {
		t.Parallel()
		f, err := NewFilter("not-a-valid-0OIl-address")
		require.Error(t, err)
		require.Nil(t, f)
	})
}

func TestDrop_Escrow_IsEscrow(t *testing.T) {
	t.Parallel()

	f, err := NewFilter()
	require.NoError(t, err)

	for _, addr := range defaultAddresses {
		require.True(t, f.IsEscrow(addr), "expected %s to be escrow", addr)
	}
	require.False(t, f.IsEscrow("So11111111111111111111111111111111111111112"))
	require.False(t, f.IsEscrow(""))
}
