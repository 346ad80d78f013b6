package custody

import (
	"errors"
	"fmt"
	"math"

	"tokenvesting/core/state"
	"tokenvesting/crypto"
)

// Store is the subset of the record store the ledger needs. *state.Txn
// satisfies it.
type Store interface {
	Create(kind state.Kind, id []byte, value interface{}) error
	Read(kind state.Kind, id []byte, out interface{}) error
	Update(kind state.Kind, id []byte, out interface{}, mutate func() error) error
	Exists(kind state.Kind, id []byte) (bool, error)
}

// Ledger implements the custody rules on top of a Store. It holds no state of
// its own, so every call participates in the caller's unit of work.
type Ledger struct {
	namespace string
}

// NewLedger returns a ledger deriving associated accounts under namespace.
func NewLedger(namespace string) *Ledger {
	return &Ledger{namespace: namespace}
}

// Namespace returns the derivation namespace.
func (l *Ledger) Namespace() string { return l.namespace }

func assetKey(id string) []byte { return []byte(id) }

// RegisterAsset records a new asset with issuer as its mint authority.
func (l *Ledger) RegisterAsset(st Store, id string, issuer [20]byte, decimals uint8) (*Asset, error) {
	normalized, err := NormalizeAsset(id)
	if err != nil {
		return nil, err
	}
	asset := &Asset{ID: normalized, Issuer: issuer, Decimals: decimals}
	if err := st.Create(kindAsset, assetKey(normalized), asset); err != nil {
		if errors.Is(err, state.ErrAlreadyExists) {
			return nil, ErrAssetExists
		}
		return nil, err
	}
	return asset, nil
}

// Asset loads the asset registered under id.
func (l *Ledger) Asset(st Store, id string) (*Asset, error) {
	normalized, err := NormalizeAsset(id)
	if err != nil {
		return nil, err
	}
	asset := new(Asset)
	if err := st.Read(kindAsset, assetKey(normalized), asset); err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return nil, ErrAssetNotFound
		}
		return nil, err
	}
	return asset, nil
}

// CreateAccount opens a zero-balance account at addr for asset, debitable
// only by authority.
func (l *Ledger) CreateAccount(st Store, addr [20]byte, asset string, authority [20]byte) (*Account, error) {
	registered, err := l.Asset(st, asset)
	if err != nil {
		return nil, err
	}
	acc := &Account{Address: addr, Asset: registered.ID, Authority: authority}
	if err := st.Create(kindAccount, addr[:], acc); err != nil {
		if errors.Is(err, state.ErrAlreadyExists) {
			return nil, ErrAccountExists
		}
		return nil, err
	}
	return acc, nil
}

// Account loads the custody account at addr.
func (l *Ledger) Account(st Store, addr [20]byte) (*Account, error) {
	acc := new(Account)
	if err := st.Read(kindAccount, addr[:], acc); err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return acc, nil
}

// AssociatedAddress derives the canonical account of owner for asset.
func (l *Ledger) AssociatedAddress(owner [20]byte, asset string) ([20]byte, error) {
	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return [20]byte{}, err
	}
	addr, _, err := crypto.AssociatedAccount(l.namespace, owner, normalized)
	return addr, err
}

// EnsureAssociatedAccount returns owner's associated account for asset,
// creating it when it does not exist yet.
func (l *Ledger) EnsureAssociatedAccount(st Store, owner [20]byte, asset string) (*Account, bool, error) {
	addr, err := l.AssociatedAddress(owner, asset)
	if err != nil {
		return nil, false, err
	}
	acc, err := l.Account(st, addr)
	if err == nil {
		if acc.Authority != owner {
			return nil, false, ErrAuthorizationFailed
		}
		normalized, _ := NormalizeAsset(asset)
		if acc.Asset != normalized {
			return nil, false, ErrAssetMismatch
		}
		return acc, false, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, false, err
	}
	acc, err = l.CreateAccount(st, addr, asset, owner)
	if err != nil {
		return nil, false, err
	}
	return acc, true, nil
}

// Mint credits amount of asset to the account at to. Only the issuer may mint.
func (l *Ledger) Mint(st Store, asset string, to [20]byte, amount uint64, auth Authorization) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	registered, err := l.Asset(st, asset)
	if err != nil {
		return err
	}
	if auth == nil || !auth.Authorizes(registered.Issuer) {
		return ErrAuthorizationFailed
	}
	if registered.Supply > math.MaxUint64-amount {
		return ErrBalanceOverflow
	}
	dst, err := l.Account(st, to)
	if err != nil {
		return err
	}
	if dst.Asset != registered.ID {
		return ErrAssetMismatch
	}
	if dst.Balance > math.MaxUint64-amount {
		return ErrBalanceOverflow
	}
	var stored Asset
	if err := st.Update(kindAsset, assetKey(registered.ID), &stored, func() error {
		stored.Supply += amount
		return nil
	}); err != nil {
		return err
	}
	var acc Account
	return st.Update(kindAccount, to[:], &acc, func() error {
		acc.Balance += amount
		return nil
	})
}

// Transfer moves amount of asset from one custody account to another. The
// authorization must satisfy the source account's authority. Every check runs
// before the first write; a failure leaves both balances untouched.
func (l *Ledger) Transfer(st Store, from, to [20]byte, asset string, amount uint64, auth Authorization) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	if from == to {
		return ErrSelfTransfer
	}
	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return err
	}
	src, err := l.Account(st, from)
	if err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if src.Asset != normalized {
		return ErrAssetMismatch
	}
	if auth == nil || !auth.Authorizes(src.Authority) {
		return ErrAuthorizationFailed
	}
	dst, err := l.Account(st, to)
	if err != nil {
		return fmt.Errorf("destination: %w", err)
	}
	if dst.Asset != normalized {
		return ErrAssetMismatch
	}
	if src.Balance < amount {
		return ErrInsufficientFunds
	}
	if dst.Balance > math.MaxUint64-amount {
		return ErrBalanceOverflow
	}

	var debit Account
	if err := st.Update(kindAccount, from[:], &debit, func() error {
		debit.Balance -= amount
		return nil
	}); err != nil {
		return err
	}
	var credit Account
	return st.Update(kindAccount, to[:], &credit, func() error {
		credit.Balance += amount
		return nil
	})
}
