package crypto

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix defines the human-readable part of a bech32 encoded address.
type AddressPrefix string

const (
	// ParticipantPrefix marks participant, custody wallet and pool authority
	// identities.
	ParticipantPrefix AddressPrefix = "lp"
	// TokenPrefix marks token identifiers on the pool allow-lists.
	TokenPrefix AddressPrefix = "tok"
)

// AddressLength is the size of the raw address payload in bytes.
const AddressLength = 20

// SignatureLength is the size of a recoverable secp256k1 signature.
const SignatureLength = 65

var (
	errAddressLength = fmt.Errorf("crypto: address must be %d bytes long", AddressLength)
	errEmptyPrefix   = errors.New("crypto: address prefix required")
)

// Address is a 20-byte identifier with a bech32 prefix. It is a comparable
// value so it can be used directly as a map key.
type Address struct {
	prefix AddressPrefix
	bytes  [AddressLength]byte
}

// NewAddress builds an address from a prefix and a 20-byte payload.
func NewAddress(prefix AddressPrefix, b []byte) (Address, error) {
	if strings.TrimSpace(string(prefix)) == "" {
		return Address{}, errEmptyPrefix
	}
	if len(b) != AddressLength {
		return Address{}, errAddressLength
	}
	var addr Address
	addr.prefix = prefix
	copy(addr.bytes[:], b)
	return addr, nil
}

// MustNewAddress is NewAddress for inputs known to be valid.
func MustNewAddress(prefix AddressPrefix, b []byte) Address {
	addr, err := NewAddress(prefix, b)
	if err != nil {
		panic(err)
	}
	return addr
}

func (a Address) String() string {
	if a.IsZero() {
		return ""
	}
	conv, err := bech32.ConvertBits(a.bytes[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// Bytes returns a copy of the raw address payload.
func (a Address) Bytes() []byte {
	out := make([]byte, AddressLength)
	copy(out, a.bytes[:])
	return out
}

// Prefix returns the human-readable prefix associated with the address.
func (a Address) Prefix() AddressPrefix {
	return a.prefix
}

// IsZero reports whether the address is the unset value.
func (a Address) IsZero() bool {
	return a.prefix == "" && a.bytes == [AddressLength]byte{}
}

// Compare orders addresses by prefix and then payload.
func (a Address) Compare(b Address) int {
	if c := strings.Compare(string(a.prefix), string(b.prefix)); c != 0 {
		return c
	}
	return bytes.Compare(a.bytes[:], b.bytes[:])
}

// MarshalText encodes the address as its bech32 string.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText decodes a bech32 string. An empty string yields the zero
// address.
func (a *Address) UnmarshalText(text []byte) error {
	trimmed := strings.TrimSpace(string(text))
	if trimmed == "" {
		*a = Address{}
		return nil
	}
	decoded, err := DecodeAddress(trimmed)
	if err != nil {
		return err
	}
	*a = decoded
	return nil
}

func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(strings.TrimSpace(addrStr))
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	return NewAddress(AddressPrefix(prefix), conv)
}

// MustDecodeAddress is DecodeAddress for literals known to be valid.
func MustDecodeAddress(addrStr string) Address {
	addr, err := DecodeAddress(addrStr)
	if err != nil {
		panic(err)
	}
	return addr
}

// --- Key Management ---

type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

// Sign produces a 65-byte recoverable signature over a 32-byte digest.
func (k *PrivateKey) Sign(digest []byte) ([]byte, error) {
	if k == nil || k.PrivateKey == nil {
		return nil, errors.New("crypto: nil private key")
	}
	return crypto.Sign(digest, k.PrivateKey)
}

func (k *PublicKey) Address() Address {
	addrBytes := crypto.PubkeyToAddress(*k.PublicKey).Bytes()
	return MustNewAddress(ParticipantPrefix, addrBytes)
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Digest hashes the supplied parts with keccak256.
func Digest(parts ...[]byte) []byte {
	return crypto.Keccak256(parts...)
}

// RecoverAddress returns the participant address that produced sig over
// digest.
func RecoverAddress(digest, sig []byte) (Address, error) {
	if len(sig) != SignatureLength {
		return Address{}, fmt.Errorf("crypto: signature must be %d bytes", SignatureLength)
	}
	normalized := make([]byte, SignatureLength)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := crypto.SigToPub(digest, normalized)
	if err != nil {
		return Address{}, fmt.Errorf("crypto: recover signer: %w", err)
	}
	return (&PublicKey{pub}).Address(), nil
}
