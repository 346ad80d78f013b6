package rpc

import (
	"container/heap"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"

	"tokenvesting/crypto"
)

// signingDomain separates request signatures from every other use of the
// caller's key.
const signingDomain = "tokenvesting/rpc/v1"

const maxNonceLength = 64

var (
	ErrMalformedEnvelope = errors.New("rpc: malformed signed request")
	ErrInvalidSignature  = errors.New("rpc: invalid signature")
	ErrStaleRequest      = errors.New("rpc: request timestamp outside allowed skew")
	ErrReplayedRequest   = errors.New("rpc: request already processed")
)

// SignedRequest is the body of every mutating call. Payload holds the exact
// bytes that were signed; the recovered signer is the caller identity. Nonce
// distinguishes otherwise identical calls made within the same second.
type SignedRequest struct {
	Signer    string          `json:"signer"`
	Timestamp int64           `json:"timestamp"`
	Nonce     string          `json:"nonce"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// RequestDigest returns the hash signed for a call to route at timestamp.
func RequestDigest(route string, timestamp int64, nonce string, payload []byte) []byte {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(timestamp))
	prefixed := append([]byte{byte(len(nonce))}, nonce...)
	return crypto.Digest([]byte(signingDomain), []byte(route), ts[:], prefixed, payload)
}

// SignRequest marshals payload and signs it for route with key under a fresh
// random nonce.
func SignRequest(key *crypto.PrivateKey, route string, payload any, timestamp int64) (*SignedRequest, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	nonce := uuid.NewString()
	sig, err := key.Sign(RequestDigest(route, timestamp, nonce, raw))
	if err != nil {
		return nil, err
	}
	return &SignedRequest{
		Signer:    crypto.FormatIdentity(key.Identity()),
		Timestamp: timestamp,
		Nonce:     nonce,
		Payload:   raw,
		Signature: hexutil.Encode(sig),
	}, nil
}

// Verifier authenticates signed requests and rejects stale or replayed ones.
// Accepted requests are remembered until their timestamp leaves the skew
// window; after that the staleness check rejects them on its own.
type Verifier struct {
	skew time.Duration
	now  func() time.Time

	mu     sync.Mutex
	seen   map[[32]byte]struct{}
	expiry replayQueue
}

type replayEntry struct {
	key     [32]byte
	expires int64
}

// replayQueue is a min-heap of accepted requests ordered by expiry.
type replayQueue []replayEntry

func (q replayQueue) Len() int           { return len(q) }
func (q replayQueue) Less(i, j int) bool { return q[i].expires < q[j].expires }
func (q replayQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *replayQueue) Push(x any)        { *q = append(*q, x.(replayEntry)) }

func (q *replayQueue) Pop() any {
	old := *q
	last := old[len(old)-1]
	*q = old[:len(old)-1]
	return last
}

// NewVerifier accepts timestamps within skew of now in either direction.
func NewVerifier(skew time.Duration, now func() time.Time) *Verifier {
	if skew <= 0 {
		skew = 5 * time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &Verifier{skew: skew, now: now, seen: make(map[[32]byte]struct{})}
}

// Verify returns the identity that signed req for route.
func (v *Verifier) Verify(route string, req *SignedRequest) ([20]byte, error) {
	if req == nil || len(req.Payload) == 0 || strings.TrimSpace(req.Signature) == "" {
		return [20]byte{}, ErrMalformedEnvelope
	}
	claimed, err := crypto.ParseAddress(strings.TrimSpace(req.Signer), crypto.IdentityPrefix)
	if err != nil {
		return [20]byte{}, fmt.Errorf("%w: signer: %v", ErrMalformedEnvelope, err)
	}
	if req.Nonce == "" || len(req.Nonce) > maxNonceLength {
		return [20]byte{}, fmt.Errorf("%w: nonce must be 1-%d bytes", ErrMalformedEnvelope, maxNonceLength)
	}
	sig, err := hexutil.Decode(strings.TrimSpace(req.Signature))
	if err != nil {
		return [20]byte{}, fmt.Errorf("%w: signature encoding", ErrMalformedEnvelope)
	}

	now := v.now().Unix()
	skew := int64(v.skew / time.Second)
	if req.Timestamp < now-skew || req.Timestamp > now+skew {
		return [20]byte{}, ErrStaleRequest
	}

	digest := RequestDigest(route, req.Timestamp, req.Nonce, req.Payload)
	if err := crypto.VerifySignature(claimed, digest, sig); err != nil {
		return [20]byte{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	var key [32]byte
	copy(key[:], crypto.Digest(digest, claimed[:]))
	v.mu.Lock()
	defer v.mu.Unlock()
	v.prune(now)
	if _, dup := v.seen[key]; dup {
		return [20]byte{}, ErrReplayedRequest
	}
	v.seen[key] = struct{}{}
	heap.Push(&v.expiry, replayEntry{key: key, expires: req.Timestamp + skew})
	return claimed, nil
}

// prune forgets requests whose timestamps are already outside the window.
// Callers hold v.mu.
func (v *Verifier) prune(now int64) {
	for v.expiry.Len() > 0 && v.expiry[0].expires < now {
		entry := heap.Pop(&v.expiry).(replayEntry)
		delete(v.seen, entry.key)
	}
}

// remembered reports how many accepted requests are held for replay checks.
func (v *Verifier) remembered() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.seen)
}
