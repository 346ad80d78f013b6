package crypto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

const (
	maxSeeds      = 16
	maxSeedLength = 64
	derivedMarker = "vesting/derived-address"
)

var (
	// ErrNoViableBump is returned when every bump yields an on-curve point.
	ErrNoViableBump = errors.New("crypto: no viable derivation bump")
	// ErrOnCurve is returned when a candidate digest is a valid public key
	// and therefore might have a private key.
	ErrOnCurve = errors.New("crypto: derived address lies on curve")
	// ErrInvalidSeeds is returned for malformed derivation inputs.
	ErrInvalidSeeds = errors.New("crypto: invalid derivation seeds")
)

// DerivationProof is the capability that proves control of a derived
// address. Re-deriving the address from the namespace, seeds and bump must
// yield the address being acted upon.
type DerivationProof struct {
	Namespace string
	Seeds     [][]byte
	Bump      uint8
}

// Address re-derives the address the proof stands for.
func (p DerivationProof) Address() ([20]byte, error) {
	return CreateDerivedAddress(p.Namespace, p.Seeds, p.Bump)
}

// Matches reports whether the proof re-derives to addr.
func (p DerivationProof) Matches(addr [20]byte) bool {
	derived, err := p.Address()
	if err != nil {
		return false
	}
	return derived == addr
}

func validateSeeds(namespace string, seeds [][]byte) error {
	if strings.TrimSpace(namespace) == "" {
		return fmt.Errorf("%w: namespace required", ErrInvalidSeeds)
	}
	if len(seeds) > maxSeeds {
		return fmt.Errorf("%w: %d seeds exceeds %d", ErrInvalidSeeds, len(seeds), maxSeeds)
	}
	for i, seed := range seeds {
		if len(seed) > maxSeedLength {
			return fmt.Errorf("%w: seed %d is %d bytes", ErrInvalidSeeds, i, len(seed))
		}
	}
	return nil
}

func derivationDigest(namespace string, seeds [][]byte, bump uint8) []byte {
	parts := make([][]byte, 0, len(seeds)+3)
	var lenBuf [2]byte
	for _, seed := range seeds {
		binary.BigEndian.PutUint16(lenBuf[:], uint16(len(seed)))
		parts = append(parts, append(append([]byte(nil), lenBuf[:]...), seed...))
	}
	parts = append(parts, []byte{bump}, []byte(namespace), []byte(derivedMarker))
	return crypto.Keccak256(parts...)
}

// CreateDerivedAddress derives the address for the given seeds and bump.
// Digests that decompress to a secp256k1 point are rejected so no key holder
// can ever sign for a derived address.
func CreateDerivedAddress(namespace string, seeds [][]byte, bump uint8) ([20]byte, error) {
	if err := validateSeeds(namespace, seeds); err != nil {
		return [20]byte{}, err
	}
	digest := derivationDigest(namespace, seeds, bump)
	if _, err := crypto.DecompressPubkey(append([]byte{0x02}, digest...)); err == nil {
		return [20]byte{}, ErrOnCurve
	}
	var addr [20]byte
	copy(addr[:], digest[12:])
	return addr, nil
}

// FindDerivedAddress searches bumps from 255 downwards and returns the first
// off-curve address together with the bump that produced it.
func FindDerivedAddress(namespace string, seeds ...[]byte) ([20]byte, uint8, error) {
	if err := validateSeeds(namespace, seeds); err != nil {
		return [20]byte{}, 0, err
	}
	for bump := 255; bump >= 0; bump-- {
		addr, err := CreateDerivedAddress(namespace, seeds, uint8(bump))
		if errors.Is(err, ErrOnCurve) {
			continue
		}
		if err != nil {
			return [20]byte{}, 0, err
		}
		return addr, uint8(bump), nil
	}
	return [20]byte{}, 0, ErrNoViableBump
}

// AssociatedAccountSeeds returns the seeds of the custody account owned by
// owner for asset.
func AssociatedAccountSeeds(owner [20]byte, asset string) [][]byte {
	return [][]byte{[]byte("associated_account"), owner[:], []byte(asset)}
}

// AssociatedAccount derives the canonical custody account of owner for asset.
func AssociatedAccount(namespace string, owner [20]byte, asset string) ([20]byte, uint8, error) {
	return FindDerivedAddress(namespace, AssociatedAccountSeeds(owner, asset)...)
}
