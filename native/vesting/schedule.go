package vesting

import (
	"errors"
	"fmt"
	"log/slog"

	"tokenvesting/core/events"
	"tokenvesting/core/state"
	"tokenvesting/crypto"
	"tokenvesting/native/custody"
)

// ScheduleAddress derives the schedule and treasury addresses for
// companyName without touching the store.
func ScheduleAddress(namespace, companyName string) (schedule [20]byte, treasury [20]byte, err error) {
	if err = validateCompanyName(companyName); err != nil {
		return
	}
	schedule, _, err = crypto.FindDerivedAddress(namespace, scheduleSeeds(companyName)...)
	if err != nil {
		return
	}
	treasury, _, err = crypto.FindDerivedAddress(namespace, treasurySeeds(companyName)...)
	return
}

// validateCompanyName bounds the name by bytes. An empty name is a valid seed.
func validateCompanyName(name string) error {
	if len(name) > MaxCompanyNameLength {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrCompanyNameTooLong, len(name), MaxCompanyNameLength)
	}
	return nil
}

// CreateSchedule persists a new vesting schedule owned by creator together
// with a zero-balance treasury account for asset. The treasury answers only to
// its own derivation proof, never to creator. Funding it is a separate custody
// transfer.
func (e *Engine) CreateSchedule(creator [20]byte, companyName, asset string) (*Schedule, error) {
	if err := validateCompanyName(companyName); err != nil {
		return nil, err
	}
	scheduleAddr, bump, err := crypto.FindDerivedAddress(e.namespace, scheduleSeeds(companyName)...)
	if err != nil {
		return nil, err
	}
	treasuryAddr, treasuryBump, err := crypto.FindDerivedAddress(e.namespace, treasurySeeds(companyName)...)
	if err != nil {
		return nil, err
	}

	var schedule *Schedule
	err = e.atomic(func(tx *state.Txn, buf *events.Buffer) error {
		registered, err := e.ledger.Asset(tx, asset)
		if err != nil {
			return err
		}
		schedule = &Schedule{
			Address:      scheduleAddr,
			Owner:        creator,
			Asset:        registered.ID,
			Treasury:     treasuryAddr,
			CompanyName:  companyName,
			TreasuryBump: treasuryBump,
			Bump:         bump,
		}
		if err := tx.Create(kindSchedule, scheduleAddr[:], schedule); err != nil {
			if errors.Is(err, state.ErrAlreadyExists) {
				return ErrDuplicateSchedule
			}
			return err
		}
		if _, err := e.ledger.CreateAccount(tx, treasuryAddr, registered.ID, treasuryAddr); err != nil {
			if errors.Is(err, custody.ErrAccountExists) {
				return ErrDuplicateSchedule
			}
			return err
		}
		if err := tx.AppendIndex(kindSchedule, scheduleListOwner, scheduleAddr); err != nil {
			return err
		}
		buf.Emit(events.ScheduleCreated{
			Schedule:    scheduleAddr,
			Treasury:    treasuryAddr,
			Owner:       creator,
			Asset:       registered.ID,
			CompanyName: companyName,
		})
		buf.Emit(events.AccountOpened{Account: treasuryAddr, Asset: registered.ID, Authority: treasuryAddr})
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.telemetry.ObserveScheduleCreated()
	e.logger.Info("vesting schedule created",
		slog.String("schedule", crypto.FormatAccount(scheduleAddr)),
		slog.String("treasury", crypto.FormatAccount(treasuryAddr)),
		slog.String("asset", schedule.Asset))
	return schedule.Clone(), nil
}
