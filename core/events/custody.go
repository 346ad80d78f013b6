package events

import (
	"tokenvesting/core/types"
	"tokenvesting/crypto"
)

const (
	TypeAssetRegistered = "custody.asset.registered"
	TypeAccountOpened   = "custody.account.opened"
	TypeAssetMinted     = "custody.asset.minted"
	TypeTransfer        = "custody.transfer"
)

type AssetRegistered struct {
	Asset    string
	Issuer   [20]byte
	Decimals uint8
}

func (AssetRegistered) EventType() string { return TypeAssetRegistered }

func (e AssetRegistered) Event() *types.Event {
	return &types.Event{
		Type: TypeAssetRegistered,
		Attributes: map[string]string{
			"asset":    e.Asset,
			"issuer":   crypto.FormatIdentity(e.Issuer),
			"decimals": formatUint(uint64(e.Decimals)),
		},
	}
}

type AccountOpened struct {
	Account   [20]byte
	Asset     string
	Authority [20]byte
}

func (AccountOpened) EventType() string { return TypeAccountOpened }

func (e AccountOpened) Event() *types.Event {
	return &types.Event{
		Type: TypeAccountOpened,
		Attributes: map[string]string{
			"account":   crypto.FormatAccount(e.Account),
			"asset":     e.Asset,
			"authority": crypto.FormatIdentity(e.Authority),
		},
	}
}

type AssetMinted struct {
	Asset  string
	To     [20]byte
	Amount uint64
}

func (AssetMinted) EventType() string { return TypeAssetMinted }

func (e AssetMinted) Event() *types.Event {
	return &types.Event{
		Type: TypeAssetMinted,
		Attributes: map[string]string{
			"asset":  e.Asset,
			"to":     crypto.FormatAccount(e.To),
			"amount": formatUint(e.Amount),
		},
	}
}

type Transfer struct {
	Asset  string
	From   [20]byte
	To     [20]byte
	Amount uint64
}

func (Transfer) EventType() string { return TypeTransfer }

func (e Transfer) Event() *types.Event {
	return &types.Event{
		Type: TypeTransfer,
		Attributes: map[string]string{
			"asset":  e.Asset,
			"from":   crypto.FormatAccount(e.From),
			"to":     crypto.FormatAccount(e.To),
			"amount": formatUint(e.Amount),
		},
	}
}
