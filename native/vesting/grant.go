package vesting

import (
	"errors"
	"log/slog"

	"tokenvesting/core/events"
	"tokenvesting/core/state"
	"tokenvesting/crypto"
)

// GrantAddress derives the grant address for (beneficiary, schedule). At most
// one grant can exist per pair because the address is the record key.
func GrantAddress(namespace string, beneficiary, schedule [20]byte) ([20]byte, uint8, error) {
	return crypto.FindDerivedAddress(namespace, grantSeeds(beneficiary, schedule)...)
}

// GrantTerms are the timing and amount parameters of a new grant. They are
// stored as given: start/end ordering, cliff placement and treasury coverage
// are not validated.
type GrantTerms struct {
	StartTime   int64
	EndTime     int64
	CliffTime   int64
	TotalAmount uint64
}

// CreateGrant records a grant for beneficiary under schedule. Only the
// schedule owner may call it. No funds move.
func (e *Engine) CreateGrant(owner, schedule, beneficiary [20]byte, terms GrantTerms) (*Grant, error) {
	grantAddr, bump, err := GrantAddress(e.namespace, beneficiary, schedule)
	if err != nil {
		return nil, err
	}
	var (
		grant *Grant
		asset string
	)
	err = e.atomic(func(tx *state.Txn, buf *events.Buffer) error {
		sched, err := loadSchedule(tx, schedule)
		if err != nil {
			return err
		}
		if sched.Owner != owner {
			return ErrUnauthorized
		}
		asset = sched.Asset
		grant = &Grant{
			Address:     grantAddr,
			Beneficiary: beneficiary,
			Schedule:    schedule,
			StartTime:   terms.StartTime,
			EndTime:     terms.EndTime,
			CliffTime:   terms.CliffTime,
			TotalAmount: terms.TotalAmount,
			Bump:        bump,
		}
		if err := tx.Create(kindGrant, grantAddr[:], newStoredGrant(grant)); err != nil {
			if errors.Is(err, state.ErrAlreadyExists) {
				return ErrDuplicateGrant
			}
			return err
		}
		if err := tx.AppendIndex(kindGrant, schedule[:], grantAddr); err != nil {
			return err
		}
		buf.Emit(events.GrantCreated{
			Grant:       grantAddr,
			Schedule:    schedule,
			Beneficiary: beneficiary,
			StartTime:   terms.StartTime,
			EndTime:     terms.EndTime,
			CliffTime:   terms.CliffTime,
			TotalAmount: terms.TotalAmount,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.telemetry.ObserveGrantCreated(asset, terms.TotalAmount)
	e.logger.Info("vesting grant created",
		slog.String("grant", crypto.FormatAccount(grantAddr)),
		slog.String("schedule", crypto.FormatAccount(schedule)),
		slog.Uint64("total_amount", terms.TotalAmount))
	return grant.Clone(), nil
}
