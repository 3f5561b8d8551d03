package payload

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

type Signature struct {
	V uint64
	R [32]byte
	S [32]byte
}

func (s Signature) String() string {
	return fmt.Sprintf("v=%d r=0x%x s=0x%x", s.V, s.R, s.S)
}

// KeyFromSeed derives a private key from keccak-256 of the seed bytes.
func KeyFromSeed(seed string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.ToECDSA(crypto.Keccak256([]byte(seed)))
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

func DerivePublicKey(seed string) (*ecdsa.PublicKey, error) {
	key, err := KeyFromSeed(seed)
	if err != nil {
		return nil, err
	}
	return &key.PublicKey, nil
}

func DeriveAddress(seed string) (common.Address, error) {
	pub, err := DerivePublicKey(seed)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// MessageHash is the SHA-256 digest that gets signed.
func MessageHash(msg []byte) []byte {
	h := sha256.Sum256(msg)
	return h[:]
}

// Sign signs the SHA-256 of msg with the seed key. A non-zero chainID
// applies replay protection: v = raw_v + 35 + 2*chainID, else raw_v + 27.
func Sign(msg []byte, seed string, chainID uint64) (Signature, error) {
	key, err := KeyFromSeed(seed)
	if err != nil {
		return Signature{}, err
	}
	raw, err := crypto.Sign(MessageHash(msg), key)
	if err != nil {
		return Signature{}, fmt.Errorf("sign: %w", err)
	}
	var sig Signature
	copy(sig.R[:], raw[:32])
	copy(sig.S[:], raw[32:64])
	if chainID != 0 {
		sig.V = uint64(raw[64]) + 35 + 2*chainID
	} else {
		sig.V = uint64(raw[64]) + 27
	}
	return sig, nil
}

func recoveryID(v uint64) (byte, error) {
	switch {
	case v == 27 || v == 28:
		return byte(v - 27), nil
	case v >= 35:
		return byte((v - 35) % 2), nil
	default:
		return 0, errors.New("invalid v")
	}
}

// Recover returns the public key that produced sig over hash.
func Recover(hash []byte, sig Signature) (*ecdsa.PublicKey, error) {
	rec, err := recoveryID(sig.V)
	if err != nil {
		return nil, err
	}
	raw := make([]byte, 65)
	copy(raw[:32], sig.R[:])
	copy(raw[32:64], sig.S[:])
	raw[64] = rec
	pub, err := crypto.SigToPub(hash, raw)
	if err != nil {
		return nil, fmt.Errorf("recover: %w", err)
	}
	return pub, nil
}

func Verify(hash []byte, sig Signature, pub *ecdsa.PublicKey) bool {
	got, err := Recover(hash, sig)
	if err != nil {
		return false
	}
	return crypto.PubkeyToAddress(*got) == crypto.PubkeyToAddress(*pub)
}
