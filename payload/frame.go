package payload

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cosmo-local-credit/saleops/chain"
)

const (
	addressWidth    = common.AddressLength
	customerIDWidth = 16
	investmentWidth = 4
	pricingWidth    = 8

	// KYCFrameLen is address ‖ customer id ‖ min ‖ max.
	KYCFrameLen = addressWidth + customerIDWidth + 2*investmentWidth
	// KYCPricedFrameLen appends the pricing tag.
	KYCPricedFrameLen = KYCFrameLen + pricingWidth

	// FrameUnitsPerEther is the scale of the min/max investment fields.
	FrameUnitsPerEther = 10_000
)

var (
	ErrInvalidAddress      = errors.New("invalid address")
	ErrFrameLengthMismatch = errors.New("frame length mismatch")
)

// KYCFrame is the fixed layout read by the on-chain KYC deserializer. All
// integers are big-endian.
type KYCFrame struct {
	Address       common.Address
	CustomerID    uuid.UUID
	MinInvestment uint32
	MaxInvestment uint32
	// PricingInfo is only serialized when Priced is set.
	PricingInfo uint64
	Priced      bool
}

func (f KYCFrame) Len() int {
	if f.Priced {
		return KYCPricedFrameLen
	}
	return KYCFrameLen
}

func (f KYCFrame) MarshalBinary() ([]byte, error) {
	out := make([]byte, 0, f.Len())
	out = append(out, f.Address.Bytes()...)
	out = append(out, f.CustomerID[:]...)
	out = binary.BigEndian.AppendUint32(out, f.MinInvestment)
	out = binary.BigEndian.AppendUint32(out, f.MaxInvestment)
	if f.Priced {
		out = binary.BigEndian.AppendUint64(out, f.PricingInfo)
	}
	if len(out) != f.Len() {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrFrameLengthMismatch, len(out), f.Len())
	}
	return out, nil
}

func (f *KYCFrame) UnmarshalBinary(b []byte) error {
	switch len(b) {
	case KYCFrameLen:
		f.Priced = false
	case KYCPricedFrameLen:
		f.Priced = true
	default:
		return fmt.Errorf("%w: got %d bytes, want %d or %d", ErrFrameLengthMismatch, len(b), KYCFrameLen, KYCPricedFrameLen)
	}
	off := 0
	f.Address = common.BytesToAddress(b[off : off+addressWidth])
	off += addressWidth
	copy(f.CustomerID[:], b[off:off+customerIDWidth])
	off += customerIDWidth
	f.MinInvestment = binary.BigEndian.Uint32(b[off:])
	off += investmentWidth
	f.MaxInvestment = binary.BigEndian.Uint32(b[off:])
	off += investmentWidth
	f.PricingInfo = 0
	if f.Priced {
		f.PricingInfo = binary.BigEndian.Uint64(b[off:])
	}
	return nil
}

func parseAddress(addr string) (common.Address, error) {
	a, err := chain.ParseAddress(addr, false)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return a, nil
}

// PackKYC builds the 44-byte KYC frame.
func PackKYC(addr string, customerID uuid.UUID, minInvestment, maxInvestment uint32) ([]byte, error) {
	a, err := parseAddress(addr)
	if err != nil {
		return nil, err
	}
	return KYCFrame{Address: a, CustomerID: customerID, MinInvestment: minInvestment, MaxInvestment: maxInvestment}.MarshalBinary()
}

// PackKYCWithPrice builds the 52-byte KYC frame carrying a pricing tag.
func PackKYCWithPrice(addr string, customerID uuid.UUID, minInvestment, maxInvestment uint32, pricingInfo uint64) ([]byte, error) {
	a, err := parseAddress(addr)
	if err != nil {
		return nil, err
	}
	return KYCFrame{
		Address:       a,
		CustomerID:    customerID,
		MinInvestment: minInvestment,
		MaxInvestment: maxInvestment,
		PricingInfo:   pricingInfo,
		Priced:        true,
	}.MarshalBinary()
}

func UnpackKYC(b []byte) (KYCFrame, error) {
	var f KYCFrame
	if err := f.UnmarshalBinary(b); err != nil {
		return KYCFrame{}, err
	}
	return f, nil
}

// ChecksumByte is the first byte of keccak-256 over the customer id as a
// 32-byte big-endian integer.
func ChecksumByte(customerID uuid.UUID) byte {
	return crypto.Keccak256(common.LeftPadBytes(customerID[:], 32))[0]
}

// ToFrameUnits converts an ether amount to the 1/10000 ether units of the
// investment fields.
func ToFrameUnits(ether decimal.Decimal) (uint32, error) {
	units := ether.Mul(decimal.NewFromInt(FrameUnitsPerEther))
	if !units.Equal(units.Truncate(0)) {
		return 0, fmt.Errorf("%s ether is not a multiple of 1/%d", ether, FrameUnitsPerEther)
	}
	if units.Sign() < 0 || units.GreaterThan(decimal.NewFromInt(int64(^uint32(0)))) {
		return 0, fmt.Errorf("%s ether does not fit the investment field", ether)
	}
	return uint32(units.IntPart()), nil
}
