package custody

import (
	"errors"
	"fmt"
	"strings"

	"tokenvesting/core/state"
	"tokenvesting/crypto"
)

const (
	kindAsset   state.Kind = "custody/asset"
	kindAccount state.Kind = "custody/account"

	maxAssetIDLength = 32
)

var (
	ErrInsufficientFunds   = errors.New("custody: insufficient funds")
	ErrAssetMismatch       = errors.New("custody: asset mismatch")
	ErrAuthorizationFailed = errors.New("custody: authorization failed")
	ErrAccountNotFound     = errors.New("custody: account not found")
	ErrAccountExists       = errors.New("custody: account already exists")
	ErrAssetNotFound       = errors.New("custody: asset not found")
	ErrAssetExists         = errors.New("custody: asset already registered")
	ErrInvalidAsset        = errors.New("custody: invalid asset identifier")
	ErrInvalidAmount       = errors.New("custody: amount must be positive")
	ErrBalanceOverflow     = errors.New("custody: balance overflow")
	ErrSelfTransfer        = errors.New("custody: source and destination are the same account")
)

// Asset describes a fungible asset that custody accounts can hold.
type Asset struct {
	ID       string
	Issuer   [20]byte
	Decimals uint8
	Supply   uint64
}

// Account is a custody account. Only its Authority may debit it, either by a
// verified signature (identities) or by a derivation proof (derived
// addresses such as schedule treasuries).
type Account struct {
	Address   [20]byte
	Asset     string
	Authority [20]byte
	Balance   uint64
}

// Clone returns a copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	out := *a
	return &out
}

// NormalizeAsset trims and upper-cases an asset identifier and validates it.
func NormalizeAsset(id string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(id))
	if trimmed == "" || len(trimmed) > maxAssetIDLength {
		return "", fmt.Errorf("%w: %q", ErrInvalidAsset, id)
	}
	for _, r := range trimmed {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '-' && r != '_' {
			return "", fmt.Errorf("%w: %q", ErrInvalidAsset, id)
		}
	}
	return trimmed, nil
}

// Authorization proves the right to debit an account controlled by a given
// authority.
type Authorization interface {
	Authorizes(authority [20]byte) bool
}

// SignerAuthorization represents an identity whose signature over the request
// has already been verified.
type SignerAuthorization struct {
	Identity [20]byte
}

// Authorizes implements Authorization.
func (s SignerAuthorization) Authorizes(authority [20]byte) bool {
	return s.Identity != ([20]byte{}) && s.Identity == authority
}

// DerivedAuthorization authorizes debits from a derived account by
// re-deriving its address from the proof.
type DerivedAuthorization struct {
	Proof crypto.DerivationProof
}

// Authorizes implements Authorization.
func (d DerivedAuthorization) Authorizes(authority [20]byte) bool {
	return d.Proof.Matches(authority)
}
