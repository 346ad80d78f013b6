package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"nhooyr.io/websocket"

	"tokenvesting/core/events"
	"tokenvesting/core/state"
	"tokenvesting/core/types"
	"tokenvesting/crypto"
	"tokenvesting/native/custody"
	"tokenvesting/native/vesting"
	"tokenvesting/storage"
)

const (
	testNamespace = "rpc-test"
	testSecret    = "operator-secret"
)

var serverTime = time.Unix(1_700_000_000, 0)

type testEnv struct {
	t        *testing.T
	server   *Server
	handler  http.Handler
	engine   *vesting.Engine
	hub      *events.Hub
	issuer   *crypto.PrivateKey
	owner    *crypto.PrivateKey
	employee *crypto.PrivateKey
	ts       int64
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	st := state.NewManager(storage.NewMemDB())
	ledger := custody.NewLedger(testNamespace)
	svc := custody.NewService(st, ledger, nil)
	engine := vesting.NewEngine(st, ledger)
	engine.SetNowFunc(func() int64 { return 500 })
	recorder := events.NewRecorder(64)
	hub := events.NewHub()
	fan := events.Fanout{recorder, hub}
	svc.SetEmitter(fan)
	engine.SetEmitter(fan)

	cfg := Config{
		Engine:       engine,
		Custody:      svc,
		Recorder:     recorder,
		Hub:          hub,
		MaxClockSkew: time.Minute,
		Auth:         AuthConfig{HMACSecret: testSecret},
		Now:          func() time.Time { return serverTime },
	}
	if mutate != nil {
		mutate(&cfg)
	}
	server, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	env := &testEnv{
		t:        t,
		server:   server,
		handler:  server.Handler(),
		engine:   engine,
		hub:      hub,
		issuer:   mustKey(t),
		owner:    mustKey(t),
		employee: mustKey(t),
		ts:       serverTime.Unix(),
	}
	return env
}

func mustKey(t *testing.T) *crypto.PrivateKey {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func pathOf(route string) string {
	_, path, _ := strings.Cut(route, " ")
	return path
}

// call signs payload with key and posts it to route. Each call uses a fresh
// timestamp so identical payloads are not treated as replays.
func (e *testEnv) call(route string, key *crypto.PrivateKey, payload any) *httptest.ResponseRecorder {
	e.t.Helper()
	e.ts++
	signed, err := SignRequest(key, route, payload, e.ts-30)
	if err != nil {
		e.t.Fatalf("sign: %v", err)
	}
	return e.post(route, signed)
}

func (e *testEnv) post(route string, signed *SignedRequest) *httptest.ResponseRecorder {
	e.t.Helper()
	body, err := json.Marshal(signed)
	if err != nil {
		e.t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, pathOf(route), bytes.NewReader(body))
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) get(path string, header http.Header) *httptest.ResponseRecorder {
	e.t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, status int) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rec.Code, rec.Body.String())
	}
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	expectStatus(t, rec, status)
	var body errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Code != code {
		t.Fatalf("expected code %s, got %s (%s)", code, body.Code, body.Message)
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return out
}

// setupSchedule registers VST, creates the "acme" schedule, funds its
// treasury with supply and grants the employee 1000 units over [0, 1000].
func (e *testEnv) setupSchedule(supply uint64) (ScheduleView, GrantView) {
	e.t.Helper()
	expectStatus(e.t, e.call(RouteRegisterAsset, e.issuer, RegisterAssetRequest{Asset: "vst", Decimals: 6}), http.StatusCreated)
	rec := e.call(RouteCreateSchedule, e.owner, CreateScheduleRequest{CompanyName: "acme", Asset: "VST"})
	expectStatus(e.t, rec, http.StatusCreated)
	schedule := decode[ScheduleView](e.t, rec)

	rec = e.call(RouteOpenAccount, e.owner, OpenAccountRequest{Asset: "VST"})
	expectStatus(e.t, rec, http.StatusOK)
	funding := decode[AccountView](e.t, rec)
	expectStatus(e.t, e.call(RouteMint, e.issuer, MintRequest{Asset: "VST", To: funding.Address, Amount: supply}), http.StatusOK)
	expectStatus(e.t, e.call(RouteTransfer, e.owner, TransferRequest{From: funding.Address, To: schedule.Treasury, Asset: "VST", Amount: supply}), http.StatusOK)

	rec = e.call(RouteCreateGrant, e.owner, CreateGrantRequest{
		Schedule:    schedule.Address,
		Beneficiary: crypto.FormatIdentity(e.employee.Identity()),
		StartTime:   0,
		EndTime:     1_000,
		CliffTime:   2_000,
		TotalAmount: 1_000,
	})
	expectStatus(e.t, rec, http.StatusCreated)
	return schedule, decode[GrantView](e.t, rec)
}

func claimFor(schedule ScheduleView, grant GrantView) ClaimRequest {
	return ClaimRequest{Grant: grant.Address, Schedule: schedule.Address, Treasury: schedule.Treasury, Asset: schedule.Asset}
}

func TestClaimFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	schedule, grant := env.setupSchedule(1_000)

	if schedule.Owner != crypto.FormatIdentity(env.owner.Identity()) || schedule.Asset != "VST" {
		t.Fatalf("unexpected schedule %+v", schedule)
	}
	rec := env.get("/v1/accounts/"+schedule.Treasury, nil)
	expectStatus(t, rec, http.StatusOK)
	if treasury := decode[AccountView](t, rec); treasury.Balance != 1_000 || treasury.Authority != schedule.Treasury {
		t.Fatalf("unexpected treasury %+v", treasury)
	}

	rec = env.call(RouteClaim, env.employee, claimFor(schedule, grant))
	expectStatus(t, rec, http.StatusOK)
	claim := decode[ClaimView](t, rec)
	if claim.Amount != 500 || claim.TotalWithdrawn != 500 {
		t.Fatalf("unexpected claim %+v", claim)
	}
	rec = env.get("/v1/accounts/"+claim.Destination, nil)
	expectStatus(t, rec, http.StatusOK)
	if dest := decode[AccountView](t, rec); dest.Balance != 500 {
		t.Fatalf("beneficiary balance %d", dest.Balance)
	}

	expectError(t, env.call(RouteClaim, env.employee, claimFor(schedule, grant)), http.StatusUnprocessableEntity, "NoTokensToClaim")

	rec = env.get("/v1/grants/"+grant.Address+"/preview?at=1000", nil)
	expectStatus(t, rec, http.StatusOK)
	if preview := decode[PreviewView](t, rec); preview.Claimable != 500 || preview.Vested != 1_000 || preview.Error != "" {
		t.Fatalf("unexpected preview %+v", preview)
	}
	rec = env.get("/v1/grants/"+grant.Address+"/preview?at=2001", nil)
	expectStatus(t, rec, http.StatusOK)
	if preview := decode[PreviewView](t, rec); preview.Error != "ClaimNotAvailableYet" {
		t.Fatalf("expected cliff error in preview, got %+v", preview)
	}

	rec = env.get("/v1/schedules/"+schedule.Address+"/grants", nil)
	expectStatus(t, rec, http.StatusOK)
	if grants := decode[[]GrantView](t, rec); len(grants) != 1 || grants[0].TotalWithdrawn != 500 {
		t.Fatalf("unexpected grants %+v", grants)
	}
	rec = env.get("/v1/schedules", nil)
	expectStatus(t, rec, http.StatusOK)
	if schedules := decode[[]ScheduleView](t, rec); len(schedules) != 1 || schedules[0].CompanyName != "acme" {
		t.Fatalf("unexpected schedules %+v", schedules)
	}
}

func TestClaimByWrongSigner(t *testing.T) {
	env := newTestEnv(t, nil)
	schedule, grant := env.setupSchedule(1_000)
	expectError(t, env.call(RouteClaim, env.owner, claimFor(schedule, grant)), http.StatusForbidden, "Unauthorized")

	req := claimFor(schedule, grant)
	req.Treasury = schedule.Address
	expectError(t, env.call(RouteClaim, env.employee, req), http.StatusBadRequest, "AccountMismatch")

	rec := env.get("/v1/grants/"+grant.Address, nil)
	if g := decode[GrantView](t, rec); g.TotalWithdrawn != 0 {
		t.Fatalf("rejected claims changed withdrawn to %d", g.TotalWithdrawn)
	}
}

func TestLedgerErrorsMapToStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	schedule, _ := env.setupSchedule(100)
	expectError(t, env.call(RouteCreateSchedule, env.employee, CreateScheduleRequest{CompanyName: "acme", Asset: "VST"}), http.StatusConflict, "DuplicateSchedule")
	expectError(t, env.call(RouteCreateGrant, env.owner, CreateGrantRequest{
		Schedule:    schedule.Address,
		Beneficiary: crypto.FormatIdentity(env.employee.Identity()),
		EndTime:     10,
		TotalAmount: 1,
	}), http.StatusConflict, "DuplicateGrant")
	expectError(t, env.call(RouteCreateGrant, env.employee, CreateGrantRequest{
		Schedule:    schedule.Address,
		Beneficiary: crypto.FormatIdentity(env.issuer.Identity()),
		EndTime:     10,
		TotalAmount: 1,
	}), http.StatusForbidden, "Unauthorized")
	expectError(t, env.call(RouteCreateSchedule, env.owner, CreateScheduleRequest{CompanyName: strings.Repeat("x", 51), Asset: "VST"}), http.StatusBadRequest, "CompanyNameTooLong")
	expectError(t, env.call(RouteCreateSchedule, env.owner, CreateScheduleRequest{CompanyName: "globex", Asset: "NOPE"}), http.StatusNotFound, "AssetNotFound")

	// 1000 promised against a treasury holding 100.
	rec := env.call(RouteCreateGrant, env.owner, CreateGrantRequest{
		Schedule:    schedule.Address,
		Beneficiary: crypto.FormatIdentity(env.issuer.Identity()),
		EndTime:     1_000,
		CliffTime:   2_000,
		TotalAmount: 1_000,
	})
	expectStatus(t, rec, http.StatusCreated)
	grant := decode[GrantView](t, rec)
	expectError(t, env.call(RouteClaim, env.issuer, claimFor(schedule, grant)), http.StatusPaymentRequired, "InsufficientFunds")

	expectError(t, env.get("/v1/grants/"+schedule.Treasury, nil), http.StatusNotFound, "GrantNotFound")
	expectError(t, env.get("/v1/grants/not-an-address", nil), http.StatusBadRequest, "MalformedRequest")
}

func TestEnvelopeRejections(t *testing.T) {
	env := newTestEnv(t, nil)
	payload := RegisterAssetRequest{Asset: "VST", Decimals: 6}

	signed, err := SignRequest(env.issuer, RouteRegisterAsset, payload, env.ts)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	expectStatus(t, env.post(RouteRegisterAsset, signed), http.StatusCreated)
	expectError(t, env.post(RouteRegisterAsset, signed), http.StatusConflict, "ReplayedRequest")

	stale, _ := SignRequest(env.issuer, RouteRegisterAsset, RegisterAssetRequest{Asset: "OLD"}, env.ts-120)
	expectError(t, env.post(RouteRegisterAsset, stale), http.StatusUnauthorized, "StaleRequest")

	tampered, _ := SignRequest(env.issuer, RouteRegisterAsset, RegisterAssetRequest{Asset: "AAA"}, env.ts)
	tampered.Payload = json.RawMessage(`{"asset":"BBB","decimals":0}`)
	expectError(t, env.post(RouteRegisterAsset, tampered), http.StatusUnauthorized, "InvalidSignature")

	impersonated, _ := SignRequest(env.employee, RouteRegisterAsset, RegisterAssetRequest{Asset: "CCC"}, env.ts)
	impersonated.Signer = crypto.FormatIdentity(env.issuer.Identity())
	expectError(t, env.post(RouteRegisterAsset, impersonated), http.StatusUnauthorized, "InvalidSignature")

	// A signature for one route does not authorize another.
	crossRoute, _ := SignRequest(env.owner, RouteOpenAccount, OpenAccountRequest{Asset: "VST"}, env.ts)
	expectError(t, env.post(RouteCreateSchedule, crossRoute), http.StatusUnauthorized, "InvalidSignature")

	req := httptest.NewRequest(http.MethodPost, "/v1/assets", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	expectError(t, rec, http.StatusBadRequest, "MalformedRequest")

	expectError(t, env.call(RouteRegisterAsset, env.issuer, map[string]any{"asset": "DDD", "extra": true}), http.StatusBadRequest, "MalformedRequest")
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.RateLimit = RateLimit{RequestsPerMinute: 1, Burst: 2}
	})
	for i := 0; i < 2; i++ {
		expectStatus(t, env.get("/v1/schedules", nil), http.StatusOK)
	}
	expectError(t, env.get("/v1/schedules", nil), http.StatusTooManyRequests, "RateLimited")
	expectStatus(t, env.get("/healthz", nil), http.StatusOK)
}

func operatorToken(t *testing.T, secret string, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "ops", "exp": exp.Unix()})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestEventsRequireOperatorToken(t *testing.T) {
	env := newTestEnv(t, nil)
	env.setupSchedule(1_000)

	expectError(t, env.get("/v1/events", nil), http.StatusUnauthorized, "MissingToken")
	bad := http.Header{"Authorization": {"Bearer " + operatorToken(t, "wrong", time.Now().Add(time.Hour))}}
	expectError(t, env.get("/v1/events", bad), http.StatusUnauthorized, "InvalidToken")
	expired := http.Header{"Authorization": {"Bearer " + operatorToken(t, testSecret, time.Now().Add(-time.Hour))}}
	expectError(t, env.get("/v1/events", expired), http.StatusUnauthorized, "InvalidToken")

	good := http.Header{"Authorization": {"Bearer " + operatorToken(t, testSecret, time.Now().Add(time.Hour))}}
	rec := env.get("/v1/events?type="+events.TypeScheduleCreated, good)
	expectStatus(t, rec, http.StatusOK)
	view := decode[EventsView](t, rec)
	if len(view.Events) != 1 || view.Events[0].Attributes["companyName"] != "acme" {
		t.Fatalf("unexpected events %+v", view.Events)
	}
}

func TestDeriveEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.get("/v1/derive/schedule?company=acme", nil)
	expectStatus(t, rec, http.StatusOK)
	derived := decode[DerivedView](t, rec)
	schedule, _ := env.setupSchedule(1)
	if derived.Address != schedule.Address || derived.Treasury != schedule.Treasury {
		t.Fatalf("offline derivation differs from created schedule")
	}
	rec = env.get("/v1/derive/grant?beneficiary="+crypto.FormatIdentity(env.employee.Identity())+"&schedule="+schedule.Address, nil)
	expectStatus(t, rec, http.StatusOK)
	grants := decode[[]GrantView](t, env.get("/v1/schedules/"+schedule.Address+"/grants", nil))
	if got := decode[DerivedView](t, rec); len(grants) != 1 || got.Address != grants[0].Address {
		t.Fatalf("derived grant address mismatch")
	}
	expectError(t, env.get("/v1/derive/schedule?company="+strings.Repeat("x", vesting.MaxCompanyNameLength+1), nil), http.StatusBadRequest, "MalformedRequest")
	expectStatus(t, env.get("/v1/derive/schedule?company=", nil), http.StatusOK)
}

func TestRequestIDEchoed(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.get("/healthz", http.Header{RequestIDHeader: {"abc-123"}})
	if rec.Header().Get(RequestIDHeader) != "abc-123" {
		t.Fatalf("request id not echoed")
	}
	rec = env.get("/healthz", nil)
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Fatalf("request id not generated")
	}
}

func TestEventStream(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) { cfg.Auth = AuthConfig{} })
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/events/stream", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	for env.hub.Subscribers() == 0 {
		select {
		case <-ctx.Done():
			t.Fatalf("subscription not registered")
		case <-time.After(10 * time.Millisecond):
		}
	}
	expectStatus(t, env.call(RouteRegisterAsset, env.issuer, RegisterAssetRequest{Asset: "VST"}), http.StatusCreated)

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var evt types.Event
	if err := json.Unmarshal(data, &evt); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if evt.Type != events.TypeAssetRegistered || evt.Attributes["asset"] != "VST" {
		t.Fatalf("unexpected event %+v", evt)
	}
}
