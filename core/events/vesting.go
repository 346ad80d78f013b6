package events

import (
	"tokenvesting/core/types"
	"tokenvesting/crypto"
)

const (
	TypeScheduleCreated = "vesting.schedule.created"
	TypeGrantCreated    = "vesting.grant.created"
	TypeTokensClaimed   = "vesting.tokens.claimed"
)

type ScheduleCreated struct {
	Schedule    [20]byte
	Treasury    [20]byte
	Owner       [20]byte
	Asset       string
	CompanyName string
}

func (ScheduleCreated) EventType() string { return TypeScheduleCreated }

func (e ScheduleCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeScheduleCreated,
		Attributes: map[string]string{
			"schedule":    crypto.FormatAccount(e.Schedule),
			"treasury":    crypto.FormatAccount(e.Treasury),
			"owner":       crypto.FormatIdentity(e.Owner),
			"asset":       e.Asset,
			"companyName": e.CompanyName,
		},
	}
}

type GrantCreated struct {
	Grant       [20]byte
	Schedule    [20]byte
	Beneficiary [20]byte
	StartTime   int64
	EndTime     int64
	CliffTime   int64
	TotalAmount uint64
}

func (GrantCreated) EventType() string { return TypeGrantCreated }

func (e GrantCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeGrantCreated,
		Attributes: map[string]string{
			"grant":       crypto.FormatAccount(e.Grant),
			"schedule":    crypto.FormatAccount(e.Schedule),
			"beneficiary": crypto.FormatIdentity(e.Beneficiary),
			"startTime":   formatInt(e.StartTime),
			"endTime":     formatInt(e.EndTime),
			"cliffTime":   formatInt(e.CliffTime),
			"totalAmount": formatUint(e.TotalAmount),
		},
	}
}

type TokensClaimed struct {
	Grant          [20]byte
	Schedule       [20]byte
	Beneficiary    [20]byte
	Destination    [20]byte
	Asset          string
	Amount         uint64
	TotalWithdrawn uint64
	ClaimedAt      int64
}

func (TokensClaimed) EventType() string { return TypeTokensClaimed }

func (e TokensClaimed) Event() *types.Event {
	return &types.Event{
		Type: TypeTokensClaimed,
		Attributes: map[string]string{
			"grant":          crypto.FormatAccount(e.Grant),
			"schedule":       crypto.FormatAccount(e.Schedule),
			"beneficiary":    crypto.FormatIdentity(e.Beneficiary),
			"destination":    crypto.FormatAccount(e.Destination),
			"asset":          e.Asset,
			"amount":         formatUint(e.Amount),
			"totalWithdrawn": formatUint(e.TotalWithdrawn),
			"claimedAt":      formatInt(e.ClaimedAt),
		},
	}
}
