package payload

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignVerify(t *testing.T) {
	seeds := []string{"Foobar", "a much longer seed phrase with spaces", ""}
	msgs := [][]byte{[]byte("hello"), make([]byte, KYCFrameLen), nil}

	for _, seed := range seeds {
		pub, err := DerivePublicKey(seed)
		require.NoError(t, err)
		for _, msg := range msgs {
			for _, chainID := range []uint64{0, 1, 1337} {
				sig, err := Sign(msg, seed, chainID)
				require.NoError(t, err)
				require.True(t, Verify(MessageHash(msg), sig, pub), "seed %q chain %d", seed, chainID)
			}
		}
	}
}

func TestSignNormalizesV(t *testing.T) {
	sig, err := Sign([]byte("frame"), "Foobar", 0)
	require.NoError(t, err)
	require.Contains(t, []uint64{27, 28}, sig.V)

	sig, err = Sign([]byte("frame"), "Foobar", 1)
	require.NoError(t, err)
	require.Contains(t, []uint64{37, 38}, sig.V)
}

func TestVerifyRejectsOtherKey(t *testing.T) {
	sig, err := Sign([]byte("frame"), "Foobar", 0)
	require.NoError(t, err)
	other, err := DerivePublicKey("Barfoo")
	require.NoError(t, err)
	require.False(t, Verify(MessageHash([]byte("frame")), sig, other))
	require.False(t, Verify(MessageHash([]byte("other frame")), sig, other))
}
