package custody

import (
	"log/slog"

	"tokenvesting/core/events"
	"tokenvesting/core/state"
)

// Service runs custody operations as standalone units of work against the
// record store and emits their events once committed. Callers that need
// custody inside a larger unit of work use the Ledger directly.
type Service struct {
	state   *state.Manager
	ledger  *Ledger
	emitter events.Emitter
	logger  *slog.Logger
}

// NewService wires a custody service. A nil logger falls back to
// slog.Default().
func NewService(st *state.Manager, ledger *Ledger, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		state:   st,
		ledger:  ledger,
		emitter: events.NoopEmitter{},
		logger:  logger.With(slog.String("component", "custody")),
	}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (s *Service) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		s.emitter = events.NoopEmitter{}
		return
	}
	s.emitter = emitter
}

// Ledger exposes the underlying ledger.
func (s *Service) Ledger() *Ledger { return s.ledger }

func (s *Service) atomic(fn func(tx *state.Txn, buf *events.Buffer) error) error {
	buf := new(events.Buffer)
	if err := s.state.Atomic(func(tx *state.Txn) error { return fn(tx, buf) }); err != nil {
		return err
	}
	buf.Flush(s.emitter)
	return nil
}

// RegisterAsset records a new asset issued by issuer.
func (s *Service) RegisterAsset(issuer [20]byte, id string, decimals uint8) (*Asset, error) {
	var asset *Asset
	err := s.atomic(func(tx *state.Txn, buf *events.Buffer) error {
		var err error
		asset, err = s.ledger.RegisterAsset(tx, id, issuer, decimals)
		if err != nil {
			return err
		}
		buf.Emit(events.AssetRegistered{Asset: asset.ID, Issuer: issuer, Decimals: decimals})
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("asset registered", slog.String("asset", asset.ID))
	return asset, nil
}

// OpenAccount returns owner's associated account for asset, creating it on
// first use.
func (s *Service) OpenAccount(owner [20]byte, asset string) (*Account, error) {
	var acc *Account
	err := s.atomic(func(tx *state.Txn, buf *events.Buffer) error {
		var (
			created bool
			err     error
		)
		acc, created, err = s.ledger.EnsureAssociatedAccount(tx, owner, asset)
		if err != nil {
			return err
		}
		if created {
			buf.Emit(events.AccountOpened{Account: acc.Address, Asset: acc.Asset, Authority: owner})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return acc, nil
}

// Mint credits newly issued units of asset to the account at to. The caller
// must be the asset issuer.
func (s *Service) Mint(issuer [20]byte, asset string, to [20]byte, amount uint64) error {
	return s.atomic(func(tx *state.Txn, buf *events.Buffer) error {
		if err := s.ledger.Mint(tx, asset, to, amount, SignerAuthorization{Identity: issuer}); err != nil {
			return err
		}
		normalized, _ := NormalizeAsset(asset)
		buf.Emit(events.AssetMinted{Asset: normalized, To: to, Amount: amount})
		return nil
	})
}

// Transfer moves funds out of an account controlled by signer. This is how a
// schedule owner funds a treasury after creating it.
func (s *Service) Transfer(signer [20]byte, from, to [20]byte, asset string, amount uint64) error {
	return s.atomic(func(tx *state.Txn, buf *events.Buffer) error {
		if err := s.ledger.Transfer(tx, from, to, asset, amount, SignerAuthorization{Identity: signer}); err != nil {
			return err
		}
		normalized, _ := NormalizeAsset(asset)
		buf.Emit(events.Transfer{Asset: normalized, From: from, To: to, Amount: amount})
		return nil
	})
}

// Account loads the custody account at addr.
func (s *Service) Account(addr [20]byte) (*Account, error) {
	var acc *Account
	err := s.state.View(func(tx *state.Txn) error {
		var err error
		acc, err = s.ledger.Account(tx, addr)
		return err
	})
	return acc, err
}

// Asset loads a registered asset.
func (s *Service) Asset(id string) (*Asset, error) {
	var asset *Asset
	err := s.state.View(func(tx *state.Txn) error {
		var err error
		asset, err = s.ledger.Asset(tx, id)
		return err
	})
	return asset, err
}
