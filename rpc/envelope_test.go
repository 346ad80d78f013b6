package rpc

import (
	"errors"
	"testing"
	"time"
)

func newTestVerifier(t *testing.T, skew time.Duration) (*Verifier, *time.Time) {
	t.Helper()
	clock := time.Unix(1_700_000_000, 0)
	return NewVerifier(skew, func() time.Time { return clock }), &clock
}

func TestVerifierAcceptsRepeatedPayloadWithFreshNonce(t *testing.T) {
	v, clock := newTestVerifier(t, time.Minute)
	key := mustKey(t)
	payload := TransferRequest{From: "a", To: "b", Asset: "VST", Amount: 5}

	first, err := SignRequest(key, RouteTransfer, payload, clock.Unix())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	second, err := SignRequest(key, RouteTransfer, payload, clock.Unix())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if first.Nonce == second.Nonce {
		t.Fatalf("nonces must differ")
	}
	for i, req := range []*SignedRequest{first, second} {
		signer, err := v.Verify(RouteTransfer, req)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if signer != key.Identity() {
			t.Fatalf("request %d: wrong signer", i)
		}
	}
	if _, err := v.Verify(RouteTransfer, second); !errors.Is(err, ErrReplayedRequest) {
		t.Fatalf("expected ErrReplayedRequest, got %v", err)
	}
}

func TestVerifierNonceIsSigned(t *testing.T) {
	v, clock := newTestVerifier(t, time.Minute)
	key := mustKey(t)
	req, err := SignRequest(key, RouteOpenAccount, OpenAccountRequest{Asset: "VST"}, clock.Unix())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	swapped := *req
	swapped.Nonce = "replacement"
	if _, err := v.Verify(RouteOpenAccount, &swapped); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	missing := *req
	missing.Nonce = ""
	if _, err := v.Verify(RouteOpenAccount, &missing); !errors.Is(err, ErrMalformedEnvelope) {
		t.Fatalf("expected ErrMalformedEnvelope, got %v", err)
	}
}

func TestVerifierForgetsExpiredRequests(t *testing.T) {
	v, clock := newTestVerifier(t, time.Minute)
	key := mustKey(t)
	old, err := SignRequest(key, RouteOpenAccount, OpenAccountRequest{Asset: "VST"}, clock.Unix())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := v.Verify(RouteOpenAccount, old); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got := v.remembered(); got != 1 {
		t.Fatalf("remembered %d requests, want 1", got)
	}

	*clock = clock.Add(2 * time.Minute)
	fresh, err := SignRequest(key, RouteOpenAccount, OpenAccountRequest{Asset: "VST"}, clock.Unix())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := v.Verify(RouteOpenAccount, fresh); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got := v.remembered(); got != 1 {
		t.Fatalf("expired entry kept: remembered %d", got)
	}
	if _, err := v.Verify(RouteOpenAccount, old); !errors.Is(err, ErrStaleRequest) {
		t.Fatalf("expected ErrStaleRequest for forgotten request, got %v", err)
	}
}
