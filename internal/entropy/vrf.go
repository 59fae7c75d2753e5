// Package entropy is an asynchronous randomness service backed by an ECVRF
// key. Every delivered value comes with a proof that anyone holding the
// public key can check.
package entropy

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/vechain/go-ecvrf"

	"github.com/coordinationlabs/jackpot-engine/internal/metrics"
	"github.com/coordinationlabs/jackpot-engine/internal/model"
)

var (
	ErrInsufficientFee = errors.New("entropy: fee below quote")
	ErrQueueFull       = errors.New("entropy: request queue full")
	ErrProofMismatch   = errors.New("entropy: proof does not match output")
)

// Status of a randomness request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// keepRecords bounds how many fulfilled requests stay queryable.
const keepRecords = 1024

// Consumer receives the randomness. The engine implements it.
type Consumer interface {
	OnRandomnessDelivered(ctx context.Context, requestID uint64, randomValue *uint256.Int) (model.RoundResult, error)
}

// Record is the public trace of one request.
type Record struct {
	RequestID   uint64        `json:"request_id"`
	Seed        hexutil.Bytes `json:"seed"`
	Alpha       hexutil.Bytes `json:"alpha"`
	Beta        hexutil.Bytes `json:"beta,omitempty"`
	Proof       hexutil.Bytes `json:"proof,omitempty"`
	RandomValue *uint256.Int  `json:"random_value,omitempty"`
	Fee         *uint256.Int  `json:"fee"`
	Status      Status        `json:"status"`
	Error       string        `json:"error,omitempty"`
	Round       uint64        `json:"round,omitempty"`
	RequestedAt time.Time     `json:"requested_at"`
	FulfilledAt time.Time     `json:"fulfilled_at,omitempty"`
}

// Provider implements the engine's Randomness collaborator.
type Provider struct {
	key *ecdsa.PrivateKey
	fee uint256.Int
	now func() time.Time

	onSettled func(context.Context, model.RoundResult)

	pending chan uint64

	mu      sync.Mutex
	nextID  uint64
	records map[uint64]*Record
	order   []uint64
}

// Option configures a Provider.
type Option func(*Provider)

// WithSettledHook is called with every round the consumer settles.
func WithSettledHook(fn func(context.Context, model.RoundResult)) Option {
	return func(p *Provider) { p.onSettled = fn }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// NewProvider creates a provider that proves with key and charges fee per
// request.
func NewProvider(key *ecdsa.PrivateKey, fee *uint256.Int, opts ...Option) *Provider {
	p := &Provider{
		key:     key,
		now:     time.Now,
		pending: make(chan uint64, 64),
		records: make(map[uint64]*Record),
	}
	if fee != nil {
		p.fee.Set(fee)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PublicKey is the key proofs verify against.
func (p *Provider) PublicKey() *ecdsa.PublicKey { return &p.key.PublicKey }

// Address identifies the provider's key.
func (p *Provider) Address() common.Address { return crypto.PubkeyToAddress(p.key.PublicKey) }

// QuoteFee returns the current request fee.
func (p *Provider) QuoteFee(context.Context) (*uint256.Int, error) {
	return new(uint256.Int).Set(&p.fee), nil
}

// RequestWithCallback queues a request and returns its id. The value is
// delivered later from Run, never from inside this call.
func (p *Provider) RequestWithCallback(_ context.Context, seed [32]byte, fee *uint256.Int) (uint64, error) {
	if fee == nil || fee.Lt(&p.fee) {
		return 0, ErrInsufficientFee
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextID + 1
	select {
	case p.pending <- id:
	default:
		return 0, ErrQueueFull
	}
	p.nextID = id
	p.store(&Record{
		RequestID:   id,
		Seed:        seed[:],
		Alpha:       alpha(id, seed),
		Fee:         new(uint256.Int).Set(fee),
		Status:      StatusPending,
		RequestedAt: p.now().UTC(),
	})
	slog.Info("randomness requested", "request_id", id)
	return id, nil
}

// Run fulfils queued requests until ctx is cancelled.
func (p *Provider) Run(ctx context.Context, consumer Consumer) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case id := <-p.pending:
			p.fulfill(ctx, consumer, id)
		}
	}
}

func (p *Provider) fulfill(ctx context.Context, consumer Consumer, id uint64) {
	p.mu.Lock()
	rec, ok := p.records[id]
	var input []byte
	var requestedAt time.Time
	if ok {
		input = bytes.Clone(rec.Alpha)
		requestedAt = rec.RequestedAt
	}
	p.mu.Unlock()
	if !ok {
		slog.Warn("randomness request evicted before fulfilment", "request_id", id)
		return
	}

	beta, proof, err := ecvrf.Secp256k1Sha256Tai.Prove(p.key, input)
	if err != nil {
		p.finish(id, func(r *Record) { r.Status, r.Error = StatusFailed, err.Error() })
		slog.Error("vrf prove failed", "request_id", id, "err", err)
		return
	}
	value := new(uint256.Int).SetBytes(beta)
	p.finish(id, func(r *Record) {
		r.Beta, r.Proof, r.RandomValue = beta, proof, new(uint256.Int).Set(value)
	})

	res, err := consumer.OnRandomnessDelivered(ctx, id, value)
	now := p.now().UTC()
	if err != nil {
		p.finish(id, func(r *Record) {
			r.Status, r.Error, r.FulfilledAt = StatusFailed, err.Error(), now
		})
		slog.Error("randomness rejected by consumer", "request_id", id, "err", err)
		return
	}
	p.finish(id, func(r *Record) {
		r.Status, r.Round, r.FulfilledAt = StatusDelivered, res.Round, now
	})
	metrics.RandomnessLatency.Observe(now.Sub(requestedAt).Seconds())
	slog.Info("randomness delivered", "request_id", id, "round", res.Round, "outcome", res.Outcome)

	if p.onSettled != nil {
		p.onSettled(ctx, res)
	}
}

func (p *Provider) finish(id uint64, update func(*Record)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.records[id]; ok {
		update(r)
	}
}

// store must be called with p.mu held.
func (p *Provider) store(r *Record) {
	p.records[r.RequestID] = r
	p.order = append(p.order, r.RequestID)
	for len(p.order) > keepRecords {
		delete(p.records, p.order[0])
		p.order = p.order[1:]
	}
}

// Record returns a copy of the trace of request id.
func (p *Provider) Record(id uint64) (Record, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.records[id]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// Verify checks that rec's proof was produced by pub for rec's input and that
// the random value is the proof output.
func Verify(pub *ecdsa.PublicKey, rec Record) error {
	if len(rec.Proof) == 0 {
		return fmt.Errorf("%w: request %d has no proof", ErrProofMismatch, rec.RequestID)
	}
	beta, err := ecvrf.Secp256k1Sha256Tai.Verify(pub, rec.Alpha, rec.Proof)
	if err != nil {
		return fmt.Errorf("verify request %d: %w", rec.RequestID, err)
	}
	if !bytes.Equal(beta, rec.Beta) {
		return fmt.Errorf("%w: request %d", ErrProofMismatch, rec.RequestID)
	}
	if rec.RandomValue == nil || !rec.RandomValue.Eq(new(uint256.Int).SetBytes(beta)) {
		return fmt.Errorf("%w: request %d random value", ErrProofMismatch, rec.RequestID)
	}
	return nil
}

// alpha is the VRF input of a request: keccak256(id || seed).
func alpha(id uint64, seed [32]byte) []byte {
	var idb [8]byte
	binary.BigEndian.PutUint64(idb[:], id)
	return crypto.Keccak256(idb[:], seed[:])
}
