package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tokenvesting/core/events"
	"tokenvesting/crypto"
	"tokenvesting/native/custody"
	"tokenvesting/native/vesting"
)

const maxBodyBytes = 64 << 10

// Routes signed by clients. The route string is part of the signed digest so
// a signature for one call cannot be replayed against another.
const (
	RouteRegisterAsset  = "POST /v1/assets"
	RouteOpenAccount    = "POST /v1/accounts"
	RouteMint           = "POST /v1/mint"
	RouteTransfer       = "POST /v1/transfers"
	RouteCreateSchedule = "POST /v1/schedules"
	RouteCreateGrant    = "POST /v1/grants"
	RouteClaim          = "POST /v1/claims"
)

type Config struct {
	Engine       *vesting.Engine
	Custody      *custody.Service
	Recorder     *events.Recorder
	Hub          *events.Hub
	Logger       *slog.Logger
	MaxClockSkew time.Duration
	RateLimit    RateLimit
	Auth         AuthConfig
	Now          func() time.Time
}

// Server exposes the vesting ledger over HTTP.
type Server struct {
	engine   *vesting.Engine
	custody  *custody.Service
	recorder *events.Recorder
	hub      *events.Hub
	logger   *slog.Logger
	verifier *Verifier
	limiter  *RateLimiter
	auth     *OperatorAuth
	obs      *Observability

	router http.Handler
}

func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil || cfg.Custody == nil {
		return nil, errors.New("rpc: engine and custody service required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "rpc"))
	if cfg.Recorder == nil {
		cfg.Recorder = events.NewRecorder(0)
	}
	if cfg.Hub == nil {
		cfg.Hub = events.NewHub()
	}
	s := &Server{
		engine:   cfg.Engine,
		custody:  cfg.Custody,
		recorder: cfg.Recorder,
		hub:      cfg.Hub,
		logger:   logger,
		verifier: NewVerifier(cfg.MaxClockSkew, cfg.Now),
		limiter:  NewRateLimiter(cfg.RateLimit),
		auth:     NewOperatorAuth(cfg.Auth),
		obs:      NewObservability("vestingd", logger),
	}
	s.router = s.buildRouter()
	return s, nil
}

// Handler returns the configured router.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(chimw.Recoverer)
	r.Use(s.obs.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(prometheus.Gatherers{prometheus.DefaultGatherer, s.obs.Registry()}, promhttp.HandlerOpts{}))

	r.Route("/v1", func(api chi.Router) {
		api.Use(s.limiter.Middleware)

		api.Post("/assets", s.handleRegisterAsset)
		api.Get("/assets/{id}", s.handleGetAsset)
		api.Post("/accounts", s.handleOpenAccount)
		api.Get("/accounts/{address}", s.handleGetAccount)
		api.Post("/mint", s.handleMint)
		api.Post("/transfers", s.handleTransfer)

		api.Post("/schedules", s.handleCreateSchedule)
		api.Get("/schedules", s.handleListSchedules)
		api.Get("/schedules/{address}", s.handleGetSchedule)
		api.Get("/schedules/{address}/grants", s.handleListGrants)

		api.Post("/grants", s.handleCreateGrant)
		api.Get("/grants/{address}", s.handleGetGrant)
		api.Get("/grants/{address}/preview", s.handlePreview)

		api.Post("/claims", s.handleClaim)

		api.Get("/derive/schedule", s.handleDeriveSchedule)
		api.Get("/derive/grant", s.handleDeriveGrant)
		api.Get("/derive/account", s.handleDeriveAccount)

		api.Group(func(op chi.Router) {
			op.Use(s.auth.Middleware)
			op.Get("/events", s.handleEvents)
			op.Get("/events/stream", s.handleEventStream)
		})
	})
	return r
}

// decodeSigned authenticates the envelope for route and decodes its payload
// into out.
func (s *Server) decodeSigned(w http.ResponseWriter, r *http.Request, route string, out any) ([20]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil || len(body) > maxBodyBytes {
		writeBadRequest(w, "request body unreadable or too large")
		return [20]byte{}, false
	}
	var envelope SignedRequest
	if err := json.Unmarshal(body, &envelope); err != nil {
		writeBadRequest(w, "invalid signed request")
		return [20]byte{}, false
	}
	signer, err := s.verifier.Verify(route, &envelope)
	if err != nil {
		s.writeError(w, r, err)
		return [20]byte{}, false
	}
	dec := json.NewDecoder(bytes.NewReader(envelope.Payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		writeBadRequest(w, fmt.Sprintf("invalid payload: %v", err))
		return [20]byte{}, false
	}
	return signer, true
}

func parseAccount(raw string) ([20]byte, error) {
	return crypto.ParseAddress(strings.TrimSpace(raw), crypto.AccountPrefix)
}

func parseIdentity(raw string) ([20]byte, error) {
	return crypto.ParseAddress(strings.TrimSpace(raw), crypto.IdentityPrefix)
}

// accountParam reads a vacct address from the URL path.
func accountParam(w http.ResponseWriter, r *http.Request) ([20]byte, bool) {
	addr, err := parseAccount(chi.URLParam(r, "address"))
	if err != nil {
		writeBadRequest(w, fmt.Sprintf("invalid address: %v", err))
		return [20]byte{}, false
	}
	return addr, true
}

func (s *Server) handleRegisterAsset(w http.ResponseWriter, r *http.Request) {
	var req RegisterAssetRequest
	signer, ok := s.decodeSigned(w, r, RouteRegisterAsset, &req)
	if !ok {
		return
	}
	asset, err := s.custody.RegisterAsset(signer, req.Asset, req.Decimals)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, assetView(asset))
}

func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	asset, err := s.custody.Asset(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, assetView(asset))
}

func (s *Server) handleOpenAccount(w http.ResponseWriter, r *http.Request) {
	var req OpenAccountRequest
	signer, ok := s.decodeSigned(w, r, RouteOpenAccount, &req)
	if !ok {
		return
	}
	acc, err := s.custody.OpenAccount(signer, req.Asset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountView(acc))
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	addr, ok := accountParam(w, r)
	if !ok {
		return
	}
	acc, err := s.custody.Account(addr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountView(acc))
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req MintRequest
	signer, ok := s.decodeSigned(w, r, RouteMint, &req)
	if !ok {
		return
	}
	to, err := parseAccount(req.To)
	if err != nil {
		writeBadRequest(w, fmt.Sprintf("invalid to: %v", err))
		return
	}
	if err := s.custody.Mint(signer, req.Asset, to, req.Amount); err != nil {
		s.writeError(w, r, err)
		return
	}
	acc, err := s.custody.Account(to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountView(acc))
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	signer, ok := s.decodeSigned(w, r, RouteTransfer, &req)
	if !ok {
		return
	}
	from, err := parseAccount(req.From)
	if err != nil {
		writeBadRequest(w, fmt.Sprintf("invalid from: %v", err))
		return
	}
	to, err := parseAccount(req.To)
	if err != nil {
		writeBadRequest(w, fmt.Sprintf("invalid to: %v", err))
		return
	}
	if err := s.custody.Transfer(signer, from, to, req.Asset, req.Amount); err != nil {
		s.writeError(w, r, err)
		return
	}
	src, err := s.custody.Account(from)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	dst, err := s.custody.Account(to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TransferView{From: accountView(src), To: accountView(dst), Amount: req.Amount})
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req CreateScheduleRequest
	signer, ok := s.decodeSigned(w, r, RouteCreateSchedule, &req)
	if !ok {
		return
	}
	schedule, err := s.engine.CreateSchedule(signer, req.CompanyName, req.Asset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, scheduleView(schedule))
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := s.engine.Schedules()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]ScheduleView, 0, len(schedules))
	for _, schedule := range schedules {
		out = append(out, scheduleView(schedule))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	addr, ok := accountParam(w, r)
	if !ok {
		return
	}
	schedule, err := s.engine.Schedule(addr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, scheduleView(schedule))
}

func (s *Server) handleListGrants(w http.ResponseWriter, r *http.Request) {
	addr, ok := accountParam(w, r)
	if !ok {
		return
	}
	grants, err := s.engine.Grants(addr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]GrantView, 0, len(grants))
	for _, grant := range grants {
		out = append(out, grantView(grant))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateGrant(w http.ResponseWriter, r *http.Request) {
	var req CreateGrantRequest
	signer, ok := s.decodeSigned(w, r, RouteCreateGrant, &req)
	if !ok {
		return
	}
	schedule, err := parseAccount(req.Schedule)
	if err != nil {
		writeBadRequest(w, fmt.Sprintf("invalid schedule: %v", err))
		return
	}
	beneficiary, err := parseIdentity(req.Beneficiary)
	if err != nil {
		writeBadRequest(w, fmt.Sprintf("invalid beneficiary: %v", err))
		return
	}
	grant, err := s.engine.CreateGrant(signer, schedule, beneficiary, vesting.GrantTerms{
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		CliffTime:   req.CliffTime,
		TotalAmount: req.TotalAmount,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, grantView(grant))
}

func (s *Server) handleGetGrant(w http.ResponseWriter, r *http.Request) {
	addr, ok := accountParam(w, r)
	if !ok {
		return
	}
	grant, err := s.engine.Grant(addr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, grantView(grant))
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	addr, ok := accountParam(w, r)
	if !ok {
		return
	}
	now := s.engine.Now()
	if raw := strings.TrimSpace(r.URL.Query().Get("at")); raw != "" {
		at, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeBadRequest(w, "at must be unix seconds")
			return
		}
		now = at
	}
	preview, err := s.engine.PreviewClaim(addr, now)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	view := PreviewView{
		Grant:     grantView(preview.Grant),
		Now:       preview.Now,
		Vested:    preview.Vested,
		Claimable: preview.Claimable,
	}
	if preview.Err != nil {
		view.Error = vesting.Code(preview.Err)
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req ClaimRequest
	signer, ok := s.decodeSigned(w, r, RouteClaim, &req)
	if !ok {
		return
	}
	claim := vesting.ClaimRequest{Beneficiary: signer, Asset: req.Asset}
	for _, field := range []struct {
		name string
		raw  string
		dst  *[20]byte
	}{
		{"grant", req.Grant, &claim.Grant},
		{"schedule", req.Schedule, &claim.Schedule},
		{"treasury", req.Treasury, &claim.Treasury},
	} {
		addr, err := parseAccount(field.raw)
		if err != nil {
			writeBadRequest(w, fmt.Sprintf("invalid %s: %v", field.name, err))
			return
		}
		*field.dst = addr
	}
	amount, err := s.engine.ClaimNow(claim)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	grant, err := s.engine.Grant(claim.Grant)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	dest, err := s.custody.Ledger().AssociatedAddress(signer, req.Asset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ClaimView{
		Grant:          crypto.FormatAccount(claim.Grant),
		Destination:    crypto.FormatAccount(dest),
		Amount:         amount,
		TotalWithdrawn: grant.TotalWithdrawn,
	})
}

func (s *Server) handleDeriveSchedule(w http.ResponseWriter, r *http.Request) {
	schedule, treasury, err := vesting.ScheduleAddress(s.engine.Namespace(), r.URL.Query().Get("company"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, DerivedView{Address: crypto.FormatAccount(schedule), Treasury: crypto.FormatAccount(treasury)})
}

func (s *Server) handleDeriveGrant(w http.ResponseWriter, r *http.Request) {
	beneficiary, err := parseIdentity(r.URL.Query().Get("beneficiary"))
	if err != nil {
		writeBadRequest(w, fmt.Sprintf("invalid beneficiary: %v", err))
		return
	}
	schedule, err := parseAccount(r.URL.Query().Get("schedule"))
	if err != nil {
		writeBadRequest(w, fmt.Sprintf("invalid schedule: %v", err))
		return
	}
	addr, _, err := vesting.GrantAddress(s.engine.Namespace(), beneficiary, schedule)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, DerivedView{Address: crypto.FormatAccount(addr)})
}

func (s *Server) handleDeriveAccount(w http.ResponseWriter, r *http.Request) {
	owner, err := parseIdentity(r.URL.Query().Get("owner"))
	if err != nil {
		writeBadRequest(w, fmt.Sprintf("invalid owner: %v", err))
		return
	}
	addr, err := s.custody.Ledger().AssociatedAddress(owner, r.URL.Query().Get("asset"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DerivedView{Address: crypto.FormatAccount(addr)})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	recorded := s.recorder.Events()
	if kind := strings.TrimSpace(r.URL.Query().Get("type")); kind != "" {
		filtered := recorded[:0]
		for _, evt := range recorded {
			if evt.Type == kind {
				filtered = append(filtered, evt)
			}
		}
		recorded = filtered
	}
	writeJSON(w, http.StatusOK, EventsView{Events: recorded})
}
