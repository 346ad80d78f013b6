package vesting

import (
	"fmt"
	"log/slog"
	"math"

	"tokenvesting/core/events"
	"tokenvesting/core/state"
	"tokenvesting/crypto"
	"tokenvesting/native/custody"
)

// authorizeClaim walks the authorization chain of a claim: the caller must be
// the grant's beneficiary, the grant must draw from the supplied schedule and
// the supplied treasury and asset must be the schedule's own.
func (e *Engine) authorizeClaim(st custody.Store, req ClaimRequest) (*Grant, *Schedule, error) {
	grant, err := loadGrant(st, req.Grant)
	if err != nil {
		return nil, nil, err
	}
	if grant.Beneficiary != req.Beneficiary {
		return nil, nil, ErrUnauthorized
	}
	if grant.Schedule != req.Schedule {
		return nil, nil, fmt.Errorf("%w: grant belongs to another schedule", ErrAccountMismatch)
	}
	derived, err := crypto.CreateDerivedAddress(e.namespace, grantSeeds(req.Beneficiary, req.Schedule), grant.Bump)
	if err != nil || derived != req.Grant {
		return nil, nil, fmt.Errorf("%w: grant address does not derive from beneficiary and schedule", ErrAccountMismatch)
	}
	schedule, err := loadSchedule(st, req.Schedule)
	if err != nil {
		return nil, nil, err
	}
	if schedule.Treasury != req.Treasury {
		return nil, nil, fmt.Errorf("%w: treasury", ErrAccountMismatch)
	}
	// Exact match against the registered identifier; no case folding.
	if req.Asset != schedule.Asset {
		return nil, nil, fmt.Errorf("%w: asset", ErrAccountMismatch)
	}
	return grant, schedule, nil
}

// Claim releases everything that has vested on the grant by now and not yet
// been withdrawn. The treasury transfer and the TotalWithdrawn update commit
// together or not at all; every check runs before either.
func (e *Engine) Claim(req ClaimRequest, now int64) (uint64, error) {
	var (
		amount uint64
		asset  string
	)
	err := e.atomic(func(tx *state.Txn, buf *events.Buffer) error {
		grant, schedule, err := e.authorizeClaim(tx, req)
		if err != nil {
			return err
		}
		asset = schedule.Asset
		claimable, err := ClaimableAmount(grant, now)
		if err != nil {
			return err
		}

		dest, created, err := e.ledger.EnsureAssociatedAccount(tx, grant.Beneficiary, schedule.Asset)
		if err != nil {
			return err
		}
		if created {
			buf.Emit(events.AccountOpened{Account: dest.Address, Asset: dest.Asset, Authority: grant.Beneficiary})
		}
		auth := custody.DerivedAuthorization{Proof: schedule.TreasuryProof(e.namespace)}
		if err := e.ledger.Transfer(tx, schedule.Treasury, dest.Address, schedule.Asset, claimable, auth); err != nil {
			return err
		}

		var stored storedGrant
		if err := tx.Update(kindGrant, req.Grant[:], &stored, func() error {
			if stored.TotalWithdrawn != grant.TotalWithdrawn {
				return state.ErrConflict
			}
			if stored.TotalWithdrawn > math.MaxUint64-claimable {
				return ErrCalculationOverflow
			}
			stored.TotalWithdrawn += claimable
			return nil
		}); err != nil {
			return err
		}

		amount = claimable
		buf.Emit(events.Transfer{Asset: schedule.Asset, From: schedule.Treasury, To: dest.Address, Amount: claimable})
		buf.Emit(events.TokensClaimed{
			Grant:          req.Grant,
			Schedule:       req.Schedule,
			Beneficiary:    grant.Beneficiary,
			Destination:    dest.Address,
			Asset:          schedule.Asset,
			Amount:         claimable,
			TotalWithdrawn: stored.TotalWithdrawn,
			ClaimedAt:      now,
		})
		return nil
	})
	if err != nil {
		e.telemetry.ObserveClaim(Code(err), asset, 0)
		e.logger.Debug("vesting claim rejected",
			slog.String("grant", crypto.FormatAccount(req.Grant)),
			slog.String("reason", Code(err)))
		return 0, err
	}
	e.telemetry.ObserveClaim("ok", asset, amount)
	e.logger.Info("vesting tokens claimed",
		slog.String("grant", crypto.FormatAccount(req.Grant)),
		slog.Uint64("amount", amount),
		slog.Int64("now", now))
	return amount, nil
}

// ClaimNow claims at the engine's current time.
func (e *Engine) ClaimNow(req ClaimRequest) (uint64, error) {
	return e.Claim(req, e.Now())
}

// PreviewClaim reports the vested and claimable amounts of a grant at now
// without changing anything. Preview.Err carries the error a claim at now
// would fail with.
func (e *Engine) PreviewClaim(grantAddr [20]byte, now int64) (*Preview, error) {
	var out *Preview
	err := e.view(func(tx *state.Txn) error {
		grant, err := loadGrant(tx, grantAddr)
		if err != nil {
			return err
		}
		out = &Preview{Grant: grant, Now: now}
		vested, err := VestedAmount(grant, now)
		if err != nil {
			out.Err = err
			return nil
		}
		out.Vested = vested
		claimable, err := ClaimableAmount(grant, now)
		if err != nil {
			out.Err = err
			return nil
		}
		out.Claimable = claimable
		return nil
	})
	return out, err
}
