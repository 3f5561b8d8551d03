package payload

import (
	"encoding/binary"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const testAddress = "0x82A978B3f5962A5b0957d9ee9eEf472EE55B42F1"

var testCustomer = uuid.MustParse("00112233-4455-6677-8899-aabbccddeeff")

func TestPackKYC(t *testing.T) {
	minUnits, err := ToFrameUnits(decimal.RequireFromString("0.1"))
	require.NoError(t, err)
	maxUnits, err := ToFrameUnits(decimal.NewFromInt(9999))
	require.NoError(t, err)
	require.Equal(t, uint32(1000), minUnits)
	require.Equal(t, uint32(99_990_000), maxUnits)

	frame, err := PackKYC(testAddress, testCustomer, minUnits, maxUnits)
	require.NoError(t, err)
	require.Len(t, frame, KYCFrameLen)
	require.Equal(t, 44, len(frame))

	require.Equal(t, common.HexToAddress(testAddress).Bytes(), frame[:20])
	require.Equal(t, testCustomer[:], frame[20:36])
	require.Equal(t, uint32(1000), binary.BigEndian.Uint32(frame[36:40]))
	require.Equal(t, uint32(99_990_000), binary.BigEndian.Uint32(frame[40:44]))

	got, err := UnpackKYC(frame)
	require.NoError(t, err)
	require.Equal(t, KYCFrame{
		Address:       common.HexToAddress(testAddress),
		CustomerID:    testCustomer,
		MinInvestment: 1000,
		MaxInvestment: 99_990_000,
	}, got)
}

func TestPackKYCWithPrice(t *testing.T) {
	frame, err := PackKYCWithPrice(testAddress, testCustomer, 1, 2, 0x0102030405060708)
	require.NoError(t, err)
	require.Len(t, frame, KYCPricedFrameLen)
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, frame[44:])

	got, err := UnpackKYC(frame)
	require.NoError(t, err)
	require.True(t, got.Priced)
	require.Equal(t, uint64(0x0102030405060708), got.PricingInfo)
	require.Equal(t, uint32(2), got.MaxInvestment)
}

func TestPackKYCRoundTripVariants(t *testing.T) {
	ids := []uuid.UUID{uuid.Nil, testCustomer, uuid.MustParse("ffffffff-ffff-ffff-ffff-ffffffffffff")}
	for _, id := range ids {
		for _, bounds := range [][2]uint32{{0, 0}, {1, ^uint32(0)}, {^uint32(0), 7}} {
			frame, err := PackKYC(testAddress, id, bounds[0], bounds[1])
			require.NoError(t, err)
			got, err := UnpackKYC(frame)
			require.NoError(t, err)
			require.Equal(t, id, got.CustomerID)
			require.Equal(t, bounds[0], got.MinInvestment)
			require.Equal(t, bounds[1], got.MaxInvestment)
		}
	}
}

func TestPackKYCInvalidAddress(t *testing.T) {
	_, err := PackKYC("0x82a978B3f5962A5b0957d9ee9eEf472EE55B42F1", testCustomer, 1, 2)
	require.ErrorIs(t, err, ErrInvalidAddress)

	_, err = PackKYC("0x1234", testCustomer, 1, 2)
	require.ErrorIs(t, err, ErrInvalidAddress)
}

func TestUnpackKYCLengthMismatch(t *testing.T) {
	_, err := UnpackKYC(make([]byte, 43))
	require.ErrorIs(t, err, ErrFrameLengthMismatch)
}

func TestChecksumByte(t *testing.T) {
	require.Equal(t, byte(0x6f), ChecksumByte(testCustomer))
}

func TestToFrameUnitsRejectsFractions(t *testing.T) {
	_, err := ToFrameUnits(decimal.RequireFromString("0.00001"))
	require.Error(t, err)
	_, err = ToFrameUnits(decimal.NewFromInt(1_000_000))
	require.Error(t, err)
}
