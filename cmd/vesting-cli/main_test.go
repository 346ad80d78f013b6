package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tokenvesting/core/state"
	"tokenvesting/crypto"
	"tokenvesting/native/custody"
	"tokenvesting/native/vesting"
	"tokenvesting/rpc"
	"tokenvesting/storage"
)

const cliNamespace = "cli-test"

func startServer(t *testing.T) string {
	t.Helper()
	st := state.NewManager(storage.NewMemDB())
	ledger := custody.NewLedger(cliNamespace)
	server, err := rpc.New(rpc.Config{
		Engine:  vesting.NewEngine(st, ledger),
		Custody: custody.NewService(st, ledger, nil),
	})
	if err != nil {
		t.Fatalf("rpc server: %v", err)
	}
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)
	return srv.URL
}

type actor struct {
	key *crypto.PrivateKey
}

func newActor(t *testing.T) actor {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	return actor{key: key}
}

func (a actor) identity() string { return crypto.FormatIdentity(a.key.Identity()) }

// exec runs the CLI as a and returns stdout. It fails the test on a non-zero
// exit unless wantExit says otherwise.
func exec(t *testing.T, a *actor, wantExit int, args ...string) (string, string) {
	t.Helper()
	if a != nil {
		t.Setenv(envPrivateKey, hex.EncodeToString(a.key.Bytes()))
	} else {
		t.Setenv(envPrivateKey, "")
	}
	var stdout, stderr bytes.Buffer
	if code := run(args, &stdout, &stderr); code != wantExit {
		t.Fatalf("vesting-cli %s: exit %d (want %d)\nstdout: %s\nstderr: %s",
			strings.Join(args, " "), code, wantExit, stdout.String(), stderr.String())
	}
	return stdout.String(), stderr.String()
}

func decodeOut[T any](t *testing.T, out string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	return v
}

func TestUsageAndUnknownCommand(t *testing.T) {
	_, stderr := exec(t, nil, 1)
	if !strings.Contains(stderr, "Usage: vesting-cli") {
		t.Fatalf("usage not printed: %s", stderr)
	}
	_, stderr = exec(t, nil, 1, "frobnicate")
	if !strings.Contains(stderr, "Unknown command: frobnicate") {
		t.Fatalf("unexpected stderr %s", stderr)
	}
	_, stderr = exec(t, nil, 1, "--output", "xml", "schedule", "list")
	if !strings.Contains(stderr, "--output must be json or yaml") {
		t.Fatalf("unexpected stderr %s", stderr)
	}
}

func TestDeriveScheduleOffline(t *testing.T) {
	out, _ := exec(t, nil, 0, "--namespace", cliNamespace, "derive", "schedule", "--company", "acme")
	got := decodeOut[rpc.DerivedView](t, out)
	schedule, treasury, err := vesting.ScheduleAddress(cliNamespace, "acme")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if got.Address != crypto.FormatAccount(schedule) || got.Treasury != crypto.FormatAccount(treasury) {
		t.Fatalf("unexpected derivation %+v", got)
	}
	_, stderr := exec(t, nil, 1, "derive", "schedule", "--company", strings.Repeat("a", 51))
	if !strings.Contains(stderr, "company name too long") {
		t.Fatalf("unexpected stderr %s", stderr)
	}
}

func TestKeygenAndAddress(t *testing.T) {
	path := filepath.Join(t.TempDir(), "owner.json")
	t.Setenv(envPassphrase, "correct horse")
	out, _ := exec(t, nil, 0, "keygen", "--out", path)
	created := decodeOut[map[string]string](t, out)
	if !strings.HasPrefix(created["identity"], "vest1") {
		t.Fatalf("unexpected identity %q", created["identity"])
	}
	out, _ = exec(t, nil, 0, "--keystore", path, "address")
	if got := decodeOut[map[string]string](t, out); got["identity"] != created["identity"] {
		t.Fatalf("keystore identity %q != %q", got["identity"], created["identity"])
	}
	_, stderr := exec(t, nil, 1, "address")
	if !strings.Contains(stderr, "no signing key") {
		t.Fatalf("unexpected stderr %s", stderr)
	}
}

func TestParseTime(t *testing.T) {
	now := time.Unix(1_000, 0)
	cases := map[string]int64{
		"1500":                 1_500,
		"-5":                   -5,
		"+1m":                  1_060,
		"-10s":                 990,
		"1970-01-01T00:01:40Z": 100,
	}
	for raw, want := range cases {
		got, err := parseTime(raw, now)
		if err != nil || got != want {
			t.Fatalf("parseTime(%q) = %d, %v; want %d", raw, got, err, want)
		}
	}
	if _, err := parseTime("tomorrow", now); err == nil {
		t.Fatalf("expected error")
	}
}

func TestEndToEndClaim(t *testing.T) {
	// Identical payloads must not share a signing second or the server
	// rejects the second as a replay.
	base := time.Now().Add(-time.Minute)
	tick := 0
	clock = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	t.Cleanup(func() { clock = time.Now })

	url := startServer(t)
	issuer, owner, employee := newActor(t), newActor(t), newActor(t)
	rpcFlag := []string{"--rpc", url}
	cmd := func(a *actor, wantExit int, args ...string) (string, string) {
		return exec(t, a, wantExit, append(append([]string{}, rpcFlag...), args...)...)
	}

	cmd(&issuer, 0, "asset", "register", "--asset", "VST", "--decimals", "6")
	schedule := decodeOut[rpc.ScheduleView](t, first(cmd(&owner, 0, "schedule", "create", "--company", "acme", "--asset", "VST")))
	funding := decodeOut[rpc.AccountView](t, first(cmd(&owner, 0, "account", "open", "--asset", "VST")))
	cmd(&issuer, 0, "mint", "--asset", "VST", "--to", funding.Address, "--amount", "1000")
	cmd(&owner, 0, "transfer", "--from", funding.Address, "--to", schedule.Treasury, "--asset", "VST", "--amount", "1000")

	grant := decodeOut[rpc.GrantView](t, first(cmd(&owner, 0, "grant", "create",
		"--schedule", schedule.Address,
		"--beneficiary", employee.identity(),
		"--start", "-1h",
		"--end", "-1s",
		"--cliff", "+1h",
		"--amount", "1000")))

	claim := decodeOut[rpc.ClaimView](t, first(cmd(&employee, 0, "claim",
		"--grant", grant.Address,
		"--schedule", schedule.Address,
		"--treasury", schedule.Treasury,
		"--asset", "VST")))
	if claim.Amount != 1_000 || claim.TotalWithdrawn != 1_000 {
		t.Fatalf("unexpected claim %+v", claim)
	}

	_, stderr := cmd(&employee, 1, "claim",
		"--grant", grant.Address,
		"--schedule", schedule.Address,
		"--treasury", schedule.Treasury,
		"--asset", "VST")
	if !strings.Contains(stderr, "NoTokensToClaim") {
		t.Fatalf("expected NoTokensToClaim, got %s", stderr)
	}

	out, _ := cmd(nil, 0, "--output", "yaml", "grant", "get", "--address", grant.Address)
	if !strings.Contains(out, "totalWithdrawn: \"1000\"") || !strings.Contains(out, "beneficiary: "+employee.identity()) {
		t.Fatalf("unexpected yaml output:\n%s", out)
	}

	out, _ = cmd(nil, 0, "account", "get", "--address", claim.Destination)
	if acc := decodeOut[rpc.AccountView](t, out); acc.Balance != 1_000 {
		t.Fatalf("beneficiary balance %d", acc.Balance)
	}
	out, _ = cmd(nil, 0, "grant", "list", "--schedule", schedule.Address)
	if grants := decodeOut[[]rpc.GrantView](t, out); len(grants) != 1 {
		t.Fatalf("expected one grant, got %d", len(grants))
	}
}

func first(stdout, _ string) string { return stdout }
