package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressLength is the size of an account, asset or feed identifier in bytes.
const AddressLength = 20

// AddressPrefix is the human-readable part used when rendering addresses.
const AddressPrefix = "dsc"

var errAddressLength = errors.New("crypto: address must be 20 bytes long")

// Address identifies an account, a collateral asset, a price feed or the
// engine itself. The zero value is the zero address and is never a valid
// owner.
type Address [AddressLength]byte

// BytesToAddress copies b into an Address. It panics when b is not exactly 20
// bytes long.
func BytesToAddress(b []byte) Address {
	if len(b) != AddressLength {
		panic(errAddressLength)
	}
	var addr Address
	copy(addr[:], b)
	return addr
}

// String renders the address in bech32 form using the dsc prefix.
func (a Address) String() string {
	conv, err := bech32.ConvertBits(a[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(AddressPrefix, conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// Hex renders the address as 0x-prefixed lowercase hex.
func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

// Bytes returns a copy of the raw address bytes.
func (a Address) Bytes() []byte {
	out := make([]byte, AddressLength)
	copy(out, a[:])
	return out
}

// IsZero reports whether the address is the zero address.
func (a Address) IsZero() bool {
	return a == Address{}
}

// MarshalText implements encoding.TextMarshaler using the bech32 form.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler accepting bech32 or hex.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// DecodeAddress parses a bech32 encoded address. Any human-readable prefix is
// accepted so long as the payload is 20 bytes.
func DecodeAddress(addrStr string) (Address, error) {
	_, decoded, err := bech32.Decode(addrStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	if len(conv) != AddressLength {
		return Address{}, errAddressLength
	}
	return BytesToAddress(conv), nil
}

// ParseAddress accepts either the bech32 form or a 0x-prefixed hex string.
func ParseAddress(value string) (Address, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return Address{}, errors.New("crypto: address required")
	}
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		raw, err := hex.DecodeString(trimmed[2:])
		if err != nil {
			return Address{}, fmt.Errorf("crypto: decode hex address: %w", err)
		}
		if len(raw) != AddressLength {
			return Address{}, errAddressLength
		}
		return BytesToAddress(raw), nil
	}
	return DecodeAddress(trimmed)
}

// MustParseAddress is ParseAddress for constants and tests.
func MustParseAddress(value string) Address {
	addr, err := ParseAddress(value)
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

// Address derives the account address controlled by the key.
func (k *PublicKey) Address() Address {
	return Address(crypto.PubkeyToAddress(*k.PublicKey))
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}
