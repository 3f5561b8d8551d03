package chain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		name  string
		input string
		allow bool
		err   error
	}{
		{"checksummed", "0x82A978B3f5962A5b0957d9ee9eEf472EE55B42F1", false, nil},
		{"lowercase", "0x82a978b3f5962a5b0957d9ee9eef472ee55b42f1", false, nil},
		{"no prefix", "82a978b3f5962a5b0957d9ee9eef472ee55b42f1", false, nil},
		{"bad checksum", "0x82a978B3f5962A5b0957d9ee9eEf472EE55B42F1", false, ErrNotChecksummed},
		{"bad checksum allowed", "0x82a978B3f5962A5b0957d9ee9eEf472EE55B42F1", true, nil},
		{"short", "0x1234", false, ErrNotAnAddress},
		{"garbage", "hello", false, ErrNotAnAddress},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, err := ParseAddress(tt.input, tt.allow)
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, "0x82A978B3f5962A5b0957d9ee9eEf472EE55B42F1", addr.Hex())
		})
	}
}
