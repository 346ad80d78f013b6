package rpc

import (
	"tokenvesting/core/types"
	"tokenvesting/crypto"
	"tokenvesting/native/custody"
	"tokenvesting/native/vesting"
)

// Request payloads carried inside SignedRequest.Payload.

type RegisterAssetRequest struct {
	Asset    string `json:"asset"`
	Decimals uint8  `json:"decimals"`
}

type OpenAccountRequest struct {
	Asset string `json:"asset"`
}

type MintRequest struct {
	Asset  string `json:"asset"`
	To     string `json:"to"`
	Amount uint64 `json:"amount,string"`
}

type TransferRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Asset  string `json:"asset"`
	Amount uint64 `json:"amount,string"`
}

type CreateScheduleRequest struct {
	CompanyName string `json:"companyName"`
	Asset       string `json:"asset"`
}

type CreateGrantRequest struct {
	Schedule    string `json:"schedule"`
	Beneficiary string `json:"beneficiary"`
	StartTime   int64  `json:"startTime"`
	EndTime     int64  `json:"endTime"`
	CliffTime   int64  `json:"cliffTime"`
	TotalAmount uint64 `json:"totalAmount,string"`
}

type ClaimRequest struct {
	Grant    string `json:"grant"`
	Schedule string `json:"schedule"`
	Treasury string `json:"treasury"`
	Asset    string `json:"asset"`
}

// Response views.

type AssetView struct {
	ID       string `json:"id"`
	Issuer   string `json:"issuer"`
	Decimals uint8  `json:"decimals"`
	Supply   uint64 `json:"supply,string"`
}

func assetView(a *custody.Asset) AssetView {
	return AssetView{ID: a.ID, Issuer: crypto.FormatIdentity(a.Issuer), Decimals: a.Decimals, Supply: a.Supply}
}

type AccountView struct {
	Address   string `json:"address"`
	Asset     string `json:"asset"`
	Authority string `json:"authority"`
	Balance   uint64 `json:"balance,string"`
}

func accountView(a *custody.Account) AccountView {
	return AccountView{
		Address:   crypto.FormatAccount(a.Address),
		Asset:     a.Asset,
		Authority: formatAuthority(a),
		Balance:   a.Balance,
	}
}

// Treasuries are their own authority; everything else answers to a key.
func formatAuthority(a *custody.Account) string {
	if a.Authority == a.Address {
		return crypto.FormatAccount(a.Authority)
	}
	return crypto.FormatIdentity(a.Authority)
}

type ScheduleView struct {
	Address     string `json:"address"`
	Owner       string `json:"owner"`
	Asset       string `json:"asset"`
	Treasury    string `json:"treasury"`
	CompanyName string `json:"companyName"`
	Bump        uint8  `json:"bump"`
}

func scheduleView(s *vesting.Schedule) ScheduleView {
	return ScheduleView{
		Address:     crypto.FormatAccount(s.Address),
		Owner:       crypto.FormatIdentity(s.Owner),
		Asset:       s.Asset,
		Treasury:    crypto.FormatAccount(s.Treasury),
		CompanyName: s.CompanyName,
		Bump:        s.Bump,
	}
}

type GrantView struct {
	Address        string `json:"address"`
	Beneficiary    string `json:"beneficiary"`
	Schedule       string `json:"schedule"`
	StartTime      int64  `json:"startTime"`
	EndTime        int64  `json:"endTime"`
	CliffTime      int64  `json:"cliffTime"`
	TotalAmount    uint64 `json:"totalAmount,string"`
	TotalWithdrawn uint64 `json:"totalWithdrawn,string"`
	Bump           uint8  `json:"bump"`
}

func grantView(g *vesting.Grant) GrantView {
	return GrantView{
		Address:        crypto.FormatAccount(g.Address),
		Beneficiary:    crypto.FormatIdentity(g.Beneficiary),
		Schedule:       crypto.FormatAccount(g.Schedule),
		StartTime:      g.StartTime,
		EndTime:        g.EndTime,
		CliffTime:      g.CliffTime,
		TotalAmount:    g.TotalAmount,
		TotalWithdrawn: g.TotalWithdrawn,
		Bump:           g.Bump,
	}
}

type PreviewView struct {
	Grant     GrantView `json:"grant"`
	Now       int64     `json:"now"`
	Vested    uint64    `json:"vested,string"`
	Claimable uint64    `json:"claimable,string"`
	Error     string    `json:"error,omitempty"`
}

type ClaimView struct {
	Grant          string `json:"grant"`
	Destination    string `json:"destination"`
	Amount         uint64 `json:"amount,string"`
	TotalWithdrawn uint64 `json:"totalWithdrawn,string"`
}

type TransferView struct {
	From   AccountView `json:"from"`
	To     AccountView `json:"to"`
	Amount uint64      `json:"amount,string"`
}

type DerivedView struct {
	Address  string `json:"address"`
	Treasury string `json:"treasury,omitempty"`
}

type EventsView struct {
	Events []*types.Event `json:"events"`
}
