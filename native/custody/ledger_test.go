package custody

import (
	"errors"
	"testing"

	"tokenvesting/core/events"
	"tokenvesting/core/state"
	"tokenvesting/crypto"
	"tokenvesting/storage"
)

const testNamespace = "custody-test"

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

type captureEmitter struct {
	events []events.Event
}

func (c *captureEmitter) Emit(evt events.Event) { c.events = append(c.events, evt) }

func newTestService(t *testing.T) (*Service, *captureEmitter) {
	t.Helper()
	svc := NewService(state.NewManager(storage.NewMemDB()), NewLedger(testNamespace), nil)
	capture := &captureEmitter{}
	svc.SetEmitter(capture)
	return svc, capture
}

func setupFundedAccount(t *testing.T, svc *Service, issuer, owner [20]byte, amount uint64) *Account {
	t.Helper()
	if _, err := svc.RegisterAsset(issuer, "vst", 6); err != nil {
		t.Fatalf("register asset: %v", err)
	}
	acc, err := svc.OpenAccount(owner, "VST")
	if err != nil {
		t.Fatalf("open account: %v", err)
	}
	if err := svc.Mint(issuer, "VST", acc.Address, amount); err != nil {
		t.Fatalf("mint: %v", err)
	}
	return acc
}

func TestRegisterAssetRejectsDuplicates(t *testing.T) {
	svc, _ := newTestService(t)
	issuer := newTestAddress(0x01)
	asset, err := svc.RegisterAsset(issuer, " vst ", 6)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if asset.ID != "VST" {
		t.Fatalf("expected normalized id, got %q", asset.ID)
	}
	if _, err := svc.RegisterAsset(issuer, "VST", 6); !errors.Is(err, ErrAssetExists) {
		t.Fatalf("expected ErrAssetExists, got %v", err)
	}
	if _, err := svc.RegisterAsset(issuer, "bad asset!", 6); !errors.Is(err, ErrInvalidAsset) {
		t.Fatalf("expected ErrInvalidAsset, got %v", err)
	}
}

func TestMintRequiresIssuer(t *testing.T) {
	svc, _ := newTestService(t)
	issuer := newTestAddress(0x01)
	owner := newTestAddress(0x02)
	acc := setupFundedAccount(t, svc, issuer, owner, 1_000)
	if err := svc.Mint(owner, "VST", acc.Address, 10); !errors.Is(err, ErrAuthorizationFailed) {
		t.Fatalf("expected ErrAuthorizationFailed, got %v", err)
	}
	stored, err := svc.Account(acc.Address)
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if stored.Balance != 1_000 {
		t.Fatalf("unexpected balance %d", stored.Balance)
	}
	asset, err := svc.Asset("VST")
	if err != nil {
		t.Fatalf("asset: %v", err)
	}
	if asset.Supply != 1_000 {
		t.Fatalf("unexpected supply %d", asset.Supply)
	}
}

func TestTransferBySigner(t *testing.T) {
	svc, capture := newTestService(t)
	issuer := newTestAddress(0x01)
	owner := newTestAddress(0x02)
	other := newTestAddress(0x03)
	src := setupFundedAccount(t, svc, issuer, owner, 500)
	dst, err := svc.OpenAccount(other, "VST")
	if err != nil {
		t.Fatalf("open destination: %v", err)
	}

	if err := svc.Transfer(other, src.Address, dst.Address, "VST", 10); !errors.Is(err, ErrAuthorizationFailed) {
		t.Fatalf("expected ErrAuthorizationFailed, got %v", err)
	}
	if err := svc.Transfer(owner, src.Address, dst.Address, "VST", 501); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if err := svc.Transfer(owner, src.Address, dst.Address, "OTHER", 1); !errors.Is(err, ErrAssetMismatch) {
		t.Fatalf("expected ErrAssetMismatch, got %v", err)
	}
	before := len(capture.events)
	if err := svc.Transfer(owner, src.Address, dst.Address, "VST", 200); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if len(capture.events) != before+1 {
		t.Fatalf("expected one transfer event, got %d", len(capture.events)-before)
	}
	if capture.events[len(capture.events)-1].EventType() != events.TypeTransfer {
		t.Fatalf("unexpected event %s", capture.events[len(capture.events)-1].EventType())
	}

	srcAcc, _ := svc.Account(src.Address)
	dstAcc, _ := svc.Account(dst.Address)
	if srcAcc.Balance != 300 || dstAcc.Balance != 200 {
		t.Fatalf("unexpected balances src=%d dst=%d", srcAcc.Balance, dstAcc.Balance)
	}
}

func TestTransferWithDerivationProof(t *testing.T) {
	svc, _ := newTestService(t)
	issuer := newTestAddress(0x01)
	owner := newTestAddress(0x02)
	funding := setupFundedAccount(t, svc, issuer, owner, 100)

	seeds := [][]byte{[]byte("vault"), []byte("acme")}
	vault, bump, err := crypto.FindDerivedAddress(testNamespace, seeds...)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	ledger := svc.Ledger()
	if err := svc.state.Atomic(func(tx *state.Txn) error {
		_, err := ledger.CreateAccount(tx, vault, "VST", vault)
		return err
	}); err != nil {
		t.Fatalf("create vault: %v", err)
	}
	if err := svc.Transfer(owner, funding.Address, vault, "VST", 100); err != nil {
		t.Fatalf("fund vault: %v", err)
	}

	forged := DerivedAuthorization{Proof: crypto.DerivationProof{Namespace: testNamespace, Seeds: [][]byte{[]byte("vault"), []byte("evil")}, Bump: bump}}
	err = svc.state.Atomic(func(tx *state.Txn) error {
		return ledger.Transfer(tx, vault, funding.Address, "VST", 1, forged)
	})
	if !errors.Is(err, ErrAuthorizationFailed) {
		t.Fatalf("expected forged proof to fail, got %v", err)
	}
	// A bare signature from any identity cannot debit a derived account.
	if err := svc.Transfer(owner, vault, funding.Address, "VST", 1); !errors.Is(err, ErrAuthorizationFailed) {
		t.Fatalf("expected signer debit of derived account to fail, got %v", err)
	}

	proof := DerivedAuthorization{Proof: crypto.DerivationProof{Namespace: testNamespace, Seeds: seeds, Bump: bump}}
	if err := svc.state.Atomic(func(tx *state.Txn) error {
		return ledger.Transfer(tx, vault, funding.Address, "VST", 40, proof)
	}); err != nil {
		t.Fatalf("proof transfer: %v", err)
	}
	vaultAcc, _ := svc.Account(vault)
	if vaultAcc.Balance != 60 {
		t.Fatalf("unexpected vault balance %d", vaultAcc.Balance)
	}
}

func TestOpenAccountIsIdempotent(t *testing.T) {
	svc, capture := newTestService(t)
	issuer := newTestAddress(0x01)
	owner := newTestAddress(0x02)
	if _, err := svc.RegisterAsset(issuer, "VST", 0); err != nil {
		t.Fatalf("register: %v", err)
	}
	first, err := svc.OpenAccount(owner, "VST")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	second, err := svc.OpenAccount(owner, "vst")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if first.Address != second.Address {
		t.Fatalf("associated account not deterministic")
	}
	opened := 0
	for _, evt := range capture.events {
		if evt.EventType() == events.TypeAccountOpened {
			opened++
		}
	}
	if opened != 1 {
		t.Fatalf("expected one account opened event, got %d", opened)
	}
	if _, err := svc.OpenAccount(owner, "NOPE"); !errors.Is(err, ErrAssetNotFound) {
		t.Fatalf("expected ErrAssetNotFound, got %v", err)
	}
}

func TestTransferRejectsZeroAndSelf(t *testing.T) {
	svc, _ := newTestService(t)
	issuer := newTestAddress(0x01)
	owner := newTestAddress(0x02)
	acc := setupFundedAccount(t, svc, issuer, owner, 10)
	if err := svc.Transfer(owner, acc.Address, acc.Address, "VST", 1); !errors.Is(err, ErrSelfTransfer) {
		t.Fatalf("expected ErrSelfTransfer, got %v", err)
	}
	if err := svc.Transfer(owner, acc.Address, newTestAddress(0x09), "VST", 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if err := svc.Transfer(owner, acc.Address, newTestAddress(0x09), "VST", 1); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}
