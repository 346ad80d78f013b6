package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix defines the human-readable part of a bech32 encoded address.
type AddressPrefix string

const (
	// IdentityPrefix marks addresses controlled by a secp256k1 key holder.
	IdentityPrefix AddressPrefix = "vest"
	// AccountPrefix marks derived addresses (schedules, grants, custody
	// accounts) that no private key controls.
	AccountPrefix AddressPrefix = "vacct"
)

// AddressLength is the byte length of every identity and derived address.
const AddressLength = 20

var (
	errInvalidSignature = errors.New("crypto: invalid signature")
	// ErrSignerMismatch is returned when a signature recovers to a different
	// identity than the one claimed by the request.
	ErrSignerMismatch = errors.New("crypto: signature does not match identity")
)

// Address represents a 20-byte address with a specific prefix.
type Address struct {
	prefix AddressPrefix
	bytes  []byte
}

func NewAddress(prefix AddressPrefix, b []byte) (Address, error) {
	if len(b) != AddressLength {
		return Address{}, fmt.Errorf("crypto: address must be %d bytes long, got %d", AddressLength, len(b))
	}
	return Address{prefix: prefix, bytes: append([]byte(nil), b...)}, nil
}

// MustNewAddress is NewAddress for fixed-size inputs that cannot fail.
func MustNewAddress(prefix AddressPrefix, b []byte) Address {
	addr, err := NewAddress(prefix, b)
	if err != nil {
		panic(err)
	}
	return addr
}

// FormatIdentity renders a raw identity as a bech32 string.
func FormatIdentity(id [20]byte) string {
	return MustNewAddress(IdentityPrefix, id[:]).String()
}

// FormatAccount renders a derived account address as a bech32 string.
func FormatAccount(addr [20]byte) string {
	return MustNewAddress(AccountPrefix, addr[:]).String()
}

func (a Address) String() string {
	conv, err := bech32.ConvertBits(a.bytes, 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

func (a Address) Bytes() []byte {
	return a.bytes
}

// Raw returns the address as a fixed-size array.
func (a Address) Raw() [20]byte {
	var out [20]byte
	copy(out[:], a.bytes)
	return out
}

// Prefix returns the human-readable prefix associated with the address.
func (a Address) Prefix() AddressPrefix {
	return a.prefix
}

func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(addrStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	return NewAddress(AddressPrefix(prefix), conv)
}

// ParseAddress decodes addrStr and requires the given prefix.
func ParseAddress(addrStr string, prefix AddressPrefix) ([20]byte, error) {
	addr, err := DecodeAddress(addrStr)
	if err != nil {
		return [20]byte{}, err
	}
	if addr.Prefix() != prefix {
		return [20]byte{}, fmt.Errorf("crypto: expected %s address, got %s", prefix, addr.Prefix())
	}
	return addr.Raw(), nil
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

// Identity returns the raw 20-byte identity controlled by the key.
func (k *PrivateKey) Identity() [20]byte {
	return k.PubKey().Address().Raw()
}

// Sign produces a 65-byte recoverable signature over a 32-byte digest.
func (k *PrivateKey) Sign(digest []byte) ([]byte, error) {
	return crypto.Sign(digest, k.PrivateKey)
}

func (k *PublicKey) Address() Address {
	addrBytes := crypto.PubkeyToAddress(*k.PublicKey).Bytes()
	return MustNewAddress(IdentityPrefix, addrBytes)
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Digest hashes the supplied payload segments into a signing digest.
func Digest(parts ...[]byte) []byte {
	return crypto.Keccak256(parts...)
}

// RecoverSigner returns the identity that produced sig over digest.
func RecoverSigner(digest, sig []byte) ([20]byte, error) {
	if len(sig) != crypto.SignatureLength {
		return [20]byte{}, errInvalidSignature
	}
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return [20]byte{}, fmt.Errorf("%w: %v", errInvalidSignature, err)
	}
	var id [20]byte
	copy(id[:], crypto.PubkeyToAddress(*pub).Bytes())
	return id, nil
}

// VerifySignature checks that identity approved digest.
func VerifySignature(identity [20]byte, digest, sig []byte) error {
	signer, err := RecoverSigner(digest, sig)
	if err != nil {
		return err
	}
	if signer != identity {
		return ErrSignerMismatch
	}
	return nil
}
