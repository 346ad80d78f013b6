package vesting

import (
	"tokenvesting/core/state"
	"tokenvesting/crypto"
)

const (
	// MaxCompanyNameLength bounds the schedule key in bytes.
	MaxCompanyNameLength = 50

	kindSchedule state.Kind = "vesting/schedule"
	kindGrant    state.Kind = "vesting/grant"
)

var (
	treasurySeed = []byte("vesting_treasury")
	grantSeed    = []byte("vesting_grant")
	// scheduleListOwner keys the global list of schedule addresses.
	scheduleListOwner = []byte("all")
)

// Schedule is a company-level vesting configuration bound to a treasury
// custody account. Owner, Asset, Treasury and CompanyName never change after
// creation.
type Schedule struct {
	Address      [20]byte
	Owner        [20]byte
	Asset        string
	Treasury     [20]byte
	CompanyName  string
	TreasuryBump uint8
	Bump         uint8
}

// Clone returns a copy of the schedule.
func (s *Schedule) Clone() *Schedule {
	if s == nil {
		return nil
	}
	out := *s
	return &out
}

func scheduleSeeds(companyName string) [][]byte {
	return [][]byte{[]byte(companyName)}
}

func treasurySeeds(companyName string) [][]byte {
	return [][]byte{treasurySeed, []byte(companyName)}
}

func grantSeeds(beneficiary, schedule [20]byte) [][]byte {
	return [][]byte{grantSeed, beneficiary[:], schedule[:]}
}

// TreasuryProof returns the capability that authorizes debits from the
// schedule treasury.
func (s *Schedule) TreasuryProof(namespace string) crypto.DerivationProof {
	return crypto.DerivationProof{
		Namespace: namespace,
		Seeds:     treasurySeeds(s.CompanyName),
		Bump:      s.TreasuryBump,
	}
}

// Grant is one beneficiary's entitlement under a schedule. TotalWithdrawn is
// the only field that changes after creation and only the claim path
// advances it.
type Grant struct {
	Address        [20]byte
	Beneficiary    [20]byte
	Schedule       [20]byte
	StartTime      int64
	EndTime        int64
	CliffTime      int64
	TotalAmount    uint64
	TotalWithdrawn uint64
	Bump           uint8
}

// Clone returns a copy of the grant.
func (g *Grant) Clone() *Grant {
	if g == nil {
		return nil
	}
	out := *g
	return &out
}

// storedGrant is the RLP shape of a Grant. RLP has no signed integers, so
// timestamps keep their two's complement bit pattern.
type storedGrant struct {
	Address        [20]byte
	Beneficiary    [20]byte
	Schedule       [20]byte
	StartTime      uint64
	EndTime        uint64
	CliffTime      uint64
	TotalAmount    uint64
	TotalWithdrawn uint64
	Bump           uint8
}

func newStoredGrant(g *Grant) *storedGrant {
	return &storedGrant{
		Address:        g.Address,
		Beneficiary:    g.Beneficiary,
		Schedule:       g.Schedule,
		StartTime:      uint64(g.StartTime),
		EndTime:        uint64(g.EndTime),
		CliffTime:      uint64(g.CliffTime),
		TotalAmount:    g.TotalAmount,
		TotalWithdrawn: g.TotalWithdrawn,
		Bump:           g.Bump,
	}
}

func (s *storedGrant) toGrant() *Grant {
	return &Grant{
		Address:        s.Address,
		Beneficiary:    s.Beneficiary,
		Schedule:       s.Schedule,
		StartTime:      int64(s.StartTime),
		EndTime:        int64(s.EndTime),
		CliffTime:      int64(s.CliffTime),
		TotalAmount:    s.TotalAmount,
		TotalWithdrawn: s.TotalWithdrawn,
		Bump:           s.Bump,
	}
}

// ClaimRequest carries the accounts a beneficiary presents when claiming.
// Every reference is checked against the stored records before any funds
// move.
type ClaimRequest struct {
	Beneficiary [20]byte
	Grant       [20]byte
	Schedule    [20]byte
	Treasury    [20]byte
	Asset       string
}

// Preview describes the claim state of a grant at a point in time.
type Preview struct {
	Grant     *Grant
	Now       int64
	Vested    uint64
	Claimable uint64
	// Err is the reason a claim at Now would fail before moving funds, if
	// any.
	Err error
}
