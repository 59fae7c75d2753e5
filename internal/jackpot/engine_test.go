package jackpot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coordinationlabs/jackpot-engine/internal/model"
	"github.com/coordinationlabs/jackpot-engine/internal/token"
)

var (
	engineAddr = common.HexToAddress("0x00000000000000000000000000000000000e6e6e")
	owner      = common.HexToAddress("0x000000000000000000000000000000000000000a")
	alice      = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob        = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol      = common.HexToAddress("0x00000000000000000000000000000000000ca401")
	dave       = common.HexToAddress("0x0000000000000000000000000000000000000da7")
	treasury   = common.HexToAddress("0x0000000000000000000000000000000000007ea5")
)

var errTransferRejected = errors.New("transfer rejected")

func u(n uint64) *uint256.Int { return uint256.NewInt(n) }

// switchableToken fails outgoing transfers while fail is set, and the next
// failNext of them otherwise.
type switchableToken struct {
	*token.Account
	fail     bool
	failNext int
}

func (s *switchableToken) Transfer(ctx context.Context, to common.Address, amount *uint256.Int) error {
	if s.fail {
		return errTransferRejected
	}
	if s.failNext > 0 {
		s.failNext--
		return errTransferRejected
	}
	return s.Account.Transfer(ctx, to, amount)
}

type fakeEntropy struct {
	fee    uint64
	nextID uint64
	seeds  [][32]byte
	err    error
}

func (f *fakeEntropy) QuoteFee(context.Context) (*uint256.Int, error) {
	return u(f.fee), nil
}

func (f *fakeEntropy) RequestWithCallback(_ context.Context, seed [32]byte, _ *uint256.Int) (uint64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.nextID++
	f.seeds = append(f.seeds, seed)
	return f.nextID, nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recordingSink) Publish(ev model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingSink) types() []model.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

type harness struct {
	t       *testing.T
	engine  *Engine
	ledger  *token.Ledger
	token   *switchableToken
	entropy *fakeEntropy
	sink    *recordingSink
	now     time.Time
}

func testParams() model.Params {
	p := model.Params{
		Owner:             owner,
		RoundDuration:     time.Hour,
		FeeBps:            1000,
		ReferralFeeBps:    500,
		LPLimit:           3,
		UserLimit:         3,
		PurchasingEnabled: true,
		FallbackWinner:    owner,
		TokenDecimals:     6,
	}
	p.TicketPrice.SetUint64(10)
	p.LPPoolCap.SetUint64(1_000_000)
	p.MinLPDeposit.SetUint64(100)
	return p
}

func newHarness(t *testing.T, transferFeeBps uint64, mutate func(*model.Params)) *harness {
	t.Helper()
	p := testParams()
	if mutate != nil {
		mutate(&p)
	}
	h := &harness{
		t:       t,
		ledger:  token.NewLedger("TEST", 6, transferFeeBps),
		entropy: &fakeEntropy{fee: 1},
		sink:    &recordingSink{},
		now:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	h.token = &switchableToken{Account: h.ledger.Account(engineAddr)}
	for _, who := range []common.Address{alice, bob, carol, dave} {
		h.ledger.Mint(who, u(10_000))
	}

	e, err := New(engineAddr, p, h.token, h.entropy,
		WithClock(func() time.Time { return h.now }),
		WithEventSink(h.sink),
	)
	require.NoError(t, err)
	h.engine = e
	return h
}

func (h *harness) balance(who common.Address) uint64 {
	h.t.Helper()
	b, err := h.ledger.BalanceOf(context.Background(), who)
	require.NoError(h.t, err)
	return b.Uint64()
}

// runRound advances past the round end, requests randomness and delivers
// randomValue.
func (h *harness) runRound(randomValue uint64) model.RoundResult {
	h.t.Helper()
	ctx := context.Background()
	h.now = h.now.Add(h.engine.Params().RoundDuration)
	req, err := h.engine.RequestRound(ctx, dave, [32]byte{1}, u(1))
	require.NoError(h.t, err)
	res, err := h.engine.OnRandomnessDelivered(ctx, req.RequestID, u(randomValue))
	require.NoError(h.t, err)
	return res
}

func (h *harness) requireConserved() {
	h.t.Helper()
	s := h.engine.Snapshot()
	assert.Equal(h.t, h.balance(engineAddr), s.Liabilities().Uint64(), "engine balance must back every ledger")
	var stake uint256.Int
	for _, p := range s.LPs {
		stake.Add(&stake, &p.Stake)
	}
	assert.True(h.t, stake.Eq(&s.LPPoolTotal), "stakes %v != lp pool %v", &stake, &s.LPPoolTotal)
}

func TestNew_RejectsInvalidParams(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.Params)
	}{
		{"zero owner", func(p *model.Params) { p.Owner = common.Address{} }},
		{"zero price", func(p *model.Params) { p.TicketPrice.Clear() }},
		{"fee too high", func(p *model.Params) { p.FeeBps = 8001 }},
		{"referral above fee", func(p *model.Params) { p.ReferralFeeBps = p.FeeBps + 1 }},
		{"no user slots", func(p *model.Params) { p.UserLimit = 0 }},
		{"no lp slots", func(p *model.Params) { p.LPLimit = 0 }},
		{"too many decimals", func(p *model.Params) { p.TokenDecimals = 37 }},
		{"pool cap overflows in bps", func(p *model.Params) { p.LPPoolCap.SetAllOne() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testParams()
			tt.mutate(&p)
			_, err := New(engineAddr, p, nil, nil)
			assert.ErrorIs(t, err, ErrInvalidParams)
		})
	}
}

func TestPurchaseTickets(t *testing.T) {
	h := newHarness(t, 0, nil)

	rc, err := h.engine.PurchaseTickets(context.Background(), alice, common.Address{}, bob, u(25))
	require.NoError(t, err)

	assert.Equal(t, alice, rc.Recipient)
	assert.Equal(t, u(2), rc.TicketCount)
	assert.Equal(t, u(20), rc.UsedAmount)
	assert.Equal(t, u(5), rc.Refund)
	assert.Equal(t, u(18_000), rc.TicketsBps)
	assert.Equal(t, u(2), rc.Fees.All)
	assert.Equal(t, u(1), rc.Fees.Referral)
	assert.Equal(t, u(1), rc.Fees.LP)

	assert.Equal(t, uint64(9_980), h.balance(alice))
	assert.Equal(t, uint64(20), h.balance(engineAddr))
	assert.Equal(t, u(1), h.engine.ReferralClaimable(bob))

	usr := h.engine.User(alice)
	assert.True(t, usr.Active)
	assert.Equal(t, uint64(18_000), usr.TicketsPurchasedTotalBps.Uint64())

	s := h.engine.Snapshot()
	assert.Equal(t, uint64(18), s.UserPoolTotal.Uint64())
	assert.Equal(t, uint64(2), s.AllFeesTotal.Uint64())
	assert.Equal(t, uint64(1), s.LPFeesTotal.Uint64())
	assert.Equal(t, []model.EventType{model.EventTicketPurchase}, h.sink.types())
	h.requireConserved()
}

func TestPurchaseTickets_ForRecipient(t *testing.T) {
	h := newHarness(t, 0, nil)

	rc, err := h.engine.PurchaseTickets(context.Background(), alice, carol, common.Address{}, u(10))
	require.NoError(t, err)

	assert.Equal(t, carol, rc.Recipient)
	assert.True(t, rc.Fees.Referral.IsZero())
	assert.True(t, h.engine.User(carol).Active)
	assert.False(t, h.engine.User(alice).Active)
}

func TestPurchaseTickets_Rejections(t *testing.T) {
	ctx := context.Background()

	t.Run("below ticket price", func(t *testing.T) {
		h := newHarness(t, 0, nil)
		_, err := h.engine.PurchaseTickets(ctx, alice, common.Address{}, common.Address{}, u(9))
		assert.ErrorIs(t, err, ErrInsufficientAmount)
		assert.Equal(t, uint64(10_000), h.balance(alice))
	})
	t.Run("self referral", func(t *testing.T) {
		h := newHarness(t, 0, nil)
		_, err := h.engine.PurchaseTickets(ctx, alice, common.Address{}, alice, u(10))
		assert.ErrorIs(t, err, ErrSelfReferral)
	})
	t.Run("purchasing disabled", func(t *testing.T) {
		h := newHarness(t, 0, func(p *model.Params) { p.PurchasingEnabled = false })
		_, err := h.engine.PurchaseTickets(ctx, alice, common.Address{}, common.Address{}, u(10))
		assert.ErrorIs(t, err, ErrPurchasingDisabled)
	})
	t.Run("user limit", func(t *testing.T) {
		h := newHarness(t, 0, func(p *model.Params) { p.UserLimit = 1 })
		_, err := h.engine.PurchaseTickets(ctx, alice, common.Address{}, common.Address{}, u(10))
		require.NoError(t, err)
		// Existing holders may keep buying.
		_, err = h.engine.PurchaseTickets(ctx, bob, alice, common.Address{}, u(10))
		require.NoError(t, err)
		_, err = h.engine.PurchaseTickets(ctx, bob, common.Address{}, common.Address{}, u(10))
		assert.ErrorIs(t, err, ErrCapacityExceeded)
		assert.Equal(t, KindCapacity, KindOf(err))
	})
	t.Run("buyer cannot pay", func(t *testing.T) {
		h := newHarness(t, 0, nil)
		_, err := h.engine.PurchaseTickets(ctx, alice, common.Address{}, common.Address{}, u(20_000))
		assert.ErrorIs(t, err, token.ErrInsufficientBalance)
		assert.Equal(t, KindInternal, KindOf(err))
		assert.Empty(t, h.sink.types())
	})
}

func TestPurchaseTickets_FeeOnTransferToken(t *testing.T) {
	ctx := context.Background()

	t.Run("tickets from what arrived", func(t *testing.T) {
		h := newHarness(t, 100, nil) // 1% per transfer
		rc, err := h.engine.PurchaseTickets(ctx, alice, common.Address{}, common.Address{}, u(1000))
		require.NoError(t, err)
		assert.Equal(t, u(99), rc.TicketCount)
		assert.Equal(t, u(990), rc.UsedAmount)
		assert.True(t, rc.Refund.IsZero())
		h.requireConserved()
	})
	t.Run("fee leaves less than a ticket", func(t *testing.T) {
		h := newHarness(t, 1000, nil) // 10% per transfer
		_, err := h.engine.PurchaseTickets(ctx, alice, common.Address{}, common.Address{}, u(10))
		assert.ErrorIs(t, err, ErrInsufficientAmount)
		// 10 sent, 9 arrived and was sent back whole.
		assert.Equal(t, uint64(9_999), h.balance(alice))
		assert.Zero(t, h.balance(engineAddr))
		assert.False(t, h.engine.User(alice).Active)
	})
}

func TestPurchaseTickets_RefundFailureReturnsPayment(t *testing.T) {
	h := newHarness(t, 0, nil)
	h.token.failNext = 1

	_, err := h.engine.PurchaseTickets(context.Background(), alice, common.Address{}, bob, u(25))
	assert.ErrorIs(t, err, errTransferRejected)

	assert.Equal(t, uint64(10_000), h.balance(alice))
	assert.Zero(t, h.balance(engineAddr))
	assert.False(t, h.engine.User(alice).Active)
	assert.True(t, h.engine.ReferralClaimable(bob).IsZero())
	assert.Empty(t, h.sink.types())
	h.requireConserved()
}

func TestPurchaseTickets_RefundAndReturnFail(t *testing.T) {
	h := newHarness(t, 0, nil)
	h.token.fail = true

	_, err := h.engine.PurchaseTickets(context.Background(), alice, common.Address{}, common.Address{}, u(25))
	assert.ErrorIs(t, err, errTransferRejected)
	assert.False(t, h.engine.User(alice).Active)
	assert.Empty(t, h.sink.types())
}

func TestLPDeposit(t *testing.T) {
	h := newHarness(t, 0, nil)

	rc, err := h.engine.LPDeposit(context.Background(), carol, u(1005), 50)
	require.NoError(t, err)

	assert.True(t, rc.Created)
	assert.Equal(t, u(1000), rc.Deposited)
	assert.Equal(t, u(5), rc.Refund)
	assert.Equal(t, uint64(9_000), h.balance(carol))

	p, ok := h.engine.LP(carol)
	require.True(t, ok)
	assert.Equal(t, uint64(1000), p.Principal.Uint64())
	assert.True(t, p.Stake.IsZero())
	assert.Equal(t, uint8(50), p.RiskPercentage)

	rc, err = h.engine.LPDeposit(context.Background(), carol, u(10), 80)
	require.NoError(t, err)
	assert.False(t, rc.Created)
	p, _ = h.engine.LP(carol)
	assert.Equal(t, uint64(1010), p.Principal.Uint64())
	assert.Equal(t, uint8(80), p.RiskPercentage)
	h.requireConserved()
}

func TestLPDeposit_Rejections(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*model.Params)
		amount uint64
		risk   uint8
		want   error
	}{
		{"risk zero", nil, 1000, 0, ErrInvalidRisk},
		{"risk above 100", nil, 1000, 101, ErrInvalidRisk},
		{"below one ticket", nil, 9, 10, ErrInsufficientAmount},
		{"below minimum", nil, 95, 10, ErrBelowMinimumDeposit},
		{"pool cap", func(p *model.Params) { p.LPPoolCap.SetUint64(500) }, 1000, 10, ErrPoolCapExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 0, tt.mutate)
			_, err := h.engine.LPDeposit(ctx, carol, u(tt.amount), tt.risk)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, uint64(10_000), h.balance(carol))
		})
	}
}

func TestLPDeposit_LPLimit(t *testing.T) {
	h := newHarness(t, 0, func(p *model.Params) { p.LPLimit = 2 })
	ctx := context.Background()

	_, err := h.engine.LPDeposit(ctx, alice, u(100), 10)
	require.NoError(t, err)
	_, err = h.engine.LPDeposit(ctx, bob, u(100), 10)
	require.NoError(t, err)
	_, err = h.engine.LPDeposit(ctx, carol, u(100), 10)
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	// Topping up an existing LP does not take a slot.
	_, err = h.engine.LPDeposit(ctx, bob, u(100), 10)
	assert.NoError(t, err)
}

func TestLPDeposit_FeePushesBelowMinimum(t *testing.T) {
	h := newHarness(t, 1000, nil) // 10% per transfer

	_, err := h.engine.LPDeposit(context.Background(), carol, u(100), 10)

	assert.ErrorIs(t, err, ErrBelowMinimumDeposit)
	// 100 sent, 90 arrived, 90 refunded and 9 lost on the way back.
	assert.Equal(t, uint64(9_981), h.balance(carol))
	assert.Zero(t, h.balance(engineAddr))
	_, ok := h.engine.LP(carol)
	assert.False(t, ok)
}

func TestLPDeposit_RefundFailureReturnsPayment(t *testing.T) {
	h := newHarness(t, 0, nil)
	h.token.failNext = 1

	_, err := h.engine.LPDeposit(context.Background(), carol, u(1005), 50)
	assert.ErrorIs(t, err, errTransferRejected)

	assert.Equal(t, uint64(10_000), h.balance(carol))
	assert.Zero(t, h.balance(engineAddr))
	_, ok := h.engine.LP(carol)
	assert.False(t, ok)
	assert.Empty(t, h.sink.types())
	h.requireConserved()
}

func TestAdjustRisk(t *testing.T) {
	h := newHarness(t, 0, nil)
	ctx := context.Background()

	assert.ErrorIs(t, h.engine.AdjustRisk(carol, 20), ErrNotLiquidityProvider)

	_, err := h.engine.LPDeposit(ctx, carol, u(1000), 50)
	require.NoError(t, err)
	assert.ErrorIs(t, h.engine.AdjustRisk(carol, 0), ErrInvalidRisk)
	require.NoError(t, h.engine.AdjustRisk(carol, 20))

	h.runRound(0)
	p, _ := h.engine.LP(carol)
	assert.Equal(t, uint64(200), p.Stake.Uint64())
	assert.Equal(t, uint64(800), p.Principal.Uint64())
}

func TestWithdrawPrincipal(t *testing.T) {
	h := newHarness(t, 0, nil)
	ctx := context.Background()

	_, err := h.engine.WithdrawPrincipal(ctx, carol)
	assert.ErrorIs(t, err, ErrNotLiquidityProvider)

	_, err = h.engine.LPDeposit(ctx, carol, u(1000), 50)
	require.NoError(t, err)

	w, err := h.engine.WithdrawPrincipal(ctx, carol)
	require.NoError(t, err)
	assert.False(t, w.Deferred)
	assert.Equal(t, u(1000), w.Amount)
	assert.Equal(t, uint64(10_000), h.balance(carol))
	_, ok := h.engine.LP(carol)
	assert.False(t, ok)
}

func TestWithdrawPrincipal_DeferredWhileStaked(t *testing.T) {
	h := newHarness(t, 0, nil)
	ctx := context.Background()

	_, err := h.engine.LPDeposit(ctx, carol, u(1000), 50)
	require.NoError(t, err)
	h.runRound(0)

	w, err := h.engine.WithdrawPrincipal(ctx, carol)
	require.NoError(t, err)
	assert.True(t, w.Deferred)
	assert.True(t, w.Amount.IsZero())
	p, ok := h.engine.LP(carol)
	require.True(t, ok)
	assert.Zero(t, p.RiskPercentage)
	assert.Equal(t, uint64(500), p.Stake.Uint64())

	// The stake comes back at the next boundary and is not re-staked.
	h.runRound(0)
	p, _ = h.engine.LP(carol)
	assert.True(t, p.Stake.IsZero())
	assert.Equal(t, uint64(1000), p.Principal.Uint64())

	w, err = h.engine.WithdrawPrincipal(ctx, carol)
	require.NoError(t, err)
	assert.False(t, w.Deferred)
	assert.Equal(t, u(1000), w.Amount)
	assert.Equal(t, uint64(10_000), h.balance(carol))
	h.requireConserved()
}

func TestWithdrawPrincipal_TransferFailureKeepsLP(t *testing.T) {
	h := newHarness(t, 0, nil)
	ctx := context.Background()

	_, err := h.engine.LPDeposit(ctx, carol, u(1000), 50)
	require.NoError(t, err)

	h.token.fail = true
	_, err = h.engine.WithdrawPrincipal(ctx, carol)
	assert.ErrorIs(t, err, errTransferRejected)

	p, ok := h.engine.LP(carol)
	require.True(t, ok)
	assert.Equal(t, uint64(1000), p.Principal.Uint64())
	assert.Equal(t, uint8(50), p.RiskPercentage)
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{ErrInsufficientAmount, KindValidation},
		{ErrInvalidParams, KindValidation},
		{ErrRoundInProgress, KindStateConflict},
		{ErrTooEarly, KindStateConflict},
		{ErrCapacityExceeded, KindCapacity},
		{ErrPoolCapExceeded, KindCapacity},
		{ErrUnauthorized, KindAuthorization},
		{ErrNothingToClaim, KindNothingToClaim},
		{errTransferRejected, KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
			assert.Equal(t, tt.want, KindOf(errors.Join(errors.New("wrapped"), tt.err)))
		})
	}
}
