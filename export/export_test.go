package export

import (
	"bytes"
	"encoding/csv"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/cosmo-local-credit/saleops/chain/chaintest"
	"github.com/cosmo-local-credit/saleops/contracts/crowdsale"
	"github.com/cosmo-local-credit/saleops/contracts/token"
	"github.com/cosmo-local-credit/saleops/logging"
)

var (
	account  = common.HexToAddress("0x00000000000000000000000000000000000000d0")
	saleAddr = common.HexToAddress("0x0000000000000000000000000000000000000005")
	tokAddr  = common.HexToAddress("0x0000000000000000000000000000000000000001")
)

func investor(i int) common.Address {
	return common.BigToAddress(big.NewInt(int64(0x1000 + i%7)))
}

// emitInvestments spreads n Invested events evenly over blocks 1..blocks.
func emitInvestments(t *testing.T, b *chaintest.Backend, n, blocks int) {
	t.Helper()
	for i := 0; i < n; i++ {
		l, err := chaintest.EncodeLog(saleAddr, crowdsale.EventInvested, investor(i), big.NewInt(1e18), big.NewInt(100_000_000), big.NewInt(int64(i)))
		require.NoError(t, err)
		l.TxHash = common.BigToHash(big.NewInt(int64(i + 1)))
		b.EmitAt(uint64(1+i*blocks/n), *l)
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	recs, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return recs
}

func exportRaw(t *testing.T, b *chaintest.Backend, cachePath, out string) {
	t.Helper()
	cache, err := OpenCache(b, cachePath)
	require.NoError(t, err)
	invs, err := Investments(t.Context(), NewScanner(b, cache, logging.Nop()), saleAddr)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, WriteRawInvestments(&buf, invs, 8))
	require.NoError(t, os.WriteFile(out, buf.Bytes(), 0o600))
}

func TestExportUsesTimestampCache(t *testing.T) {
	b := chaintest.NewBackend(account)
	emitInvestments(t, b, 250, 10)
	dir := t.TempDir()
	cachePath := filepath.Join(dir, "timestamps.json")
	out := filepath.Join(dir, "investments.csv")

	exportRaw(t, b, cachePath, out)
	recs := readCSV(t, out)
	require.Len(t, recs, 251)
	require.Equal(t, 10, b.BlockFetches)
	require.Equal(t, investor(0).Hex(), recs[1][0])
	require.Equal(t, "1", recs[1][5])
	require.Equal(t, "1", recs[1][6])
	require.Equal(t, "", recs[1][7])
	require.Equal(t, "00000000-0000-0000-0000-000000000001", recs[2][7])

	require.NoError(t, os.Remove(out))
	exportRaw(t, b, cachePath, out)
	require.Len(t, readCSV(t, out), 251)
	require.Equal(t, 10, b.BlockFetches)
}

func TestCacheFlushedDuringScan(t *testing.T) {
	b := chaintest.NewBackend(account)
	emitInvestments(t, b, 250, 10)
	cachePath := filepath.Join(t.TempDir(), "timestamps.json")

	cache, err := OpenCache(b, cachePath)
	require.NoError(t, err)
	crash := errors.New("crash")
	n := 0
	_, err = NewScanner(b, cache, logging.Nop()).Scan(t.Context(), saleAddr, crowdsale.EventInvested, func(Event) error {
		n++
		if n == 150 {
			return crash
		}
		return nil
	})
	require.ErrorIs(t, err, crash)
	require.Equal(t, 6, b.BlockFetches)

	// only the first 100 events' blocks made it to disk
	reopened, err := OpenCache(b, cachePath)
	require.NoError(t, err)
	require.Equal(t, 4, reopened.Len())

	_, err = NewScanner(b, reopened, logging.Nop()).Scan(t.Context(), saleAddr, crowdsale.EventInvested, func(Event) error { return nil })
	require.NoError(t, err)
	require.Equal(t, 12, b.BlockFetches)
}

func TestInvestors(t *testing.T) {
	b := chaintest.NewBackend(account)
	emitInvestments(t, b, 14, 2)
	cache, err := OpenCache(b, "")
	require.NoError(t, err)
	invs, err := Investments(t.Context(), NewScanner(b, cache, logging.Nop()), saleAddr)
	require.NoError(t, err)

	investors := Investors(invs)
	require.Len(t, investors, 7)
	first := investors[0]
	require.Equal(t, investor(0), first.Address)
	require.Equal(t, 2, first.Payments)
	require.Equal(t, "2000000000000000000", first.Wei.String())
	require.True(t, first.LastPayment.After(first.FirstPayment))

	var buf bytes.Buffer
	require.NoError(t, WriteInvestors(&buf, investors, 8))
	recs, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Equal(t, []string{investor(0).Hex(), "2017-07-14 02:40:12", "2017-07-14 02:40:24", "2", "2", "2"}, recs[1])
}

func TestIssuances(t *testing.T) {
	b := chaintest.NewBackend(account)
	allower := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	other := common.HexToAddress("0x00000000000000000000000000000000000000b2")
	to := common.HexToAddress("0x00000000000000000000000000000000000000c3")
	for i, from := range []common.Address{allower, other, allower} {
		l, err := chaintest.EncodeLog(tokAddr, token.EventTransfer, from, to, big.NewInt(int64(150_000_000*(i+1))))
		require.NoError(t, err)
		b.EmitAt(uint64(i+1), *l)
	}
	cache, err := OpenCache(b, "")
	require.NoError(t, err)

	items, err := Issuances(t.Context(), NewScanner(b, cache, logging.Nop()), tokAddr, allower)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, to, items[0].To)
	require.Equal(t, uint64(3), items[1].Block)

	var buf bytes.Buffer
	require.NoError(t, WriteIssuances(&buf, items, 8))
	recs, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Equal(t, "1.5", recs[1][1])
	require.Equal(t, "4.5", recs[2][1])
}
