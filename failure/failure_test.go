package failure

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorLine(t *testing.T) {
	base := errors.New("allowance 10 < 20")
	err := fmt.Errorf("run: %w", New(KindChain, "distribute", "0xabc", base))

	require.ErrorIs(t, err, base)
	require.Equal(t, KindChain, KindOf(err))
	require.Equal(t, "ChainError: run: distribute 0xabc: allowance 10 < 20", Line(err))
}

func TestErrorWithoutKey(t *testing.T) {
	err := Newf(KindConfig, "config", "", "unknown environment %q", "ropsten")
	require.Equal(t, "config: unknown environment \"ropsten\"", err.Error())
	require.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	require.Equal(t, "plain", Line(errors.New("plain")))
}
