package jackpot

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coordinationlabs/jackpot-engine/internal/model"
)

const pendingID = 7

// lockedRound builds an engine that is awaiting randomness for request
// pendingID with the given pools. Ticket weights are in bps.
func lockedRound(t *testing.T, mutate func(*model.Params), userPool uint64, holders map[common.Address]uint64, order []common.Address, stakes map[common.Address]uint64) *harness {
	t.Helper()
	h := newHarness(t, 0, mutate)

	s := h.engine.Snapshot()
	s.Lock = model.AwaitingRandomness
	s.PendingRequest = pendingID
	s.UserPoolTotal.SetUint64(userPool)
	for _, addr := range order {
		usr := model.User{Address: addr, Active: true}
		usr.TicketsPurchasedTotalBps.SetUint64(holders[addr])
		s.Users = append(s.Users, usr)
		s.TicketCountTotalBps.Add(&s.TicketCountTotalBps, &usr.TicketsPurchasedTotalBps)
	}
	for addr, stake := range stakes {
		p := model.LP{Address: addr, RiskPercentage: 100, Active: true}
		p.Stake.SetUint64(stake)
		s.LPs = append(s.LPs, p)
		s.LPPoolTotal.Add(&s.LPPoolTotal, &p.Stake)
	}
	require.NoError(t, h.engine.Restore(s))
	return h
}

func principalOf(t *testing.T, e *Engine, addr common.Address) uint64 {
	t.Helper()
	p, ok := e.LP(addr)
	require.True(t, ok)
	// Risk is 100 so everything returned is staked again for the next round.
	return new(uint256.Int).Add(&p.Principal, &p.Stake).Uint64()
}

func TestSettle_NoTickets(t *testing.T) {
	h := lockedRound(t, nil, 0, nil, nil, map[common.Address]uint64{carol: 1000})
	h.engine.lastWinner = alice

	res, err := h.engine.OnRandomnessDelivered(context.Background(), pendingID, u(42))
	require.NoError(t, err)

	assert.Equal(t, model.OutcomeNoTickets, res.Outcome)
	assert.Equal(t, common.Address{}, res.Winner)
	assert.Equal(t, uint64(1000), principalOf(t, h.engine, carol))
	assert.Equal(t, model.Idle, h.engine.LockState())
	assert.Contains(t, h.sink.types(), model.EventRoundResult)
}

func TestSettle_UserFundedWin(t *testing.T) {
	h := lockedRound(t, nil, 850,
		map[common.Address]uint64{alice: 85_000},
		[]common.Address{alice},
		map[common.Address]uint64{carol: 400},
	)

	res, err := h.engine.OnRandomnessDelivered(context.Background(), pendingID, u(12345))
	require.NoError(t, err)

	assert.Equal(t, model.OutcomeUserPool, res.Outcome)
	assert.Equal(t, alice, res.Winner)
	assert.Equal(t, uint64(850), res.WinAmount.Uint64())
	assert.Equal(t, uint64(85_000), res.WinnerTicketsBps.Uint64())
	assert.Equal(t, uint64(12345%85_000+1), res.WinningTicket.Uint64())

	user := h.engine.User(alice)
	assert.Equal(t, uint64(850), user.WinningsClaimable.Uint64())
	assert.Equal(t, uint64(400), principalOf(t, h.engine, carol))
}

func TestSettle_LPFundedUserWins(t *testing.T) {
	// 20 tickets at price 10 with no fee.
	noFee := func(p *model.Params) { p.FeeBps, p.ReferralFeeBps = 0, 0 }
	h := lockedRound(t, noFee, 200,
		map[common.Address]uint64{alice: 200_000},
		[]common.Address{alice},
		map[common.Address]uint64{carol: 600, dave: 300},
	)

	// Draw range is 900*10000/10 = 900000; 0 draws ticket 1.
	res, err := h.engine.OnRandomnessDelivered(context.Background(), pendingID, u(0))
	require.NoError(t, err)

	assert.Equal(t, model.OutcomeLPPoolUser, res.Outcome)
	assert.Equal(t, alice, res.Winner)
	assert.Equal(t, uint64(1), res.WinningTicket.Uint64())
	assert.Equal(t, uint64(900), res.WinAmount.Uint64())
	user := h.engine.User(alice)
	assert.Equal(t, uint64(900), user.WinningsClaimable.Uint64())

	// Stakes are forfeited; the user pool is split 2:1.
	assert.Equal(t, uint64(133), principalOf(t, h.engine, carol))
	assert.Equal(t, uint64(66), principalOf(t, h.engine, dave))
	snap := h.engine.Snapshot()
	assert.Equal(t, uint64(1), snap.LPFeesTotal.Uint64(), "rounding remainder is kept")
	assert.Equal(t, alice, h.engine.Snapshot().LastWinnerAddress)
}

func TestSettle_HouseWins(t *testing.T) {
	noFee := func(p *model.Params) { p.FeeBps, p.ReferralFeeBps = 0, 0 }
	h := lockedRound(t, noFee, 200,
		map[common.Address]uint64{alice: 200_000},
		[]common.Address{alice},
		map[common.Address]uint64{carol: 900},
	)

	res, err := h.engine.OnRandomnessDelivered(context.Background(), pendingID, u(200_000))
	require.NoError(t, err)

	assert.Equal(t, model.OutcomeHouseWins, res.Outcome)
	assert.Equal(t, common.Address{}, res.Winner)
	assert.Equal(t, uint64(200_001), res.WinningTicket.Uint64())
	assert.True(t, res.WinAmount.IsZero())
	user := h.engine.User(alice)
	assert.True(t, user.WinningsClaimable.IsZero())
	assert.Equal(t, uint64(1100), principalOf(t, h.engine, carol))
	assert.Equal(t, common.Address{}, h.engine.Snapshot().LastWinnerAddress)
}

func TestSettle_LargePoolsAtHighDecimals(t *testing.T) {
	units := func(n string) *uint256.Int { return uint256.MustFromDecimal(n + "000000000000000000000000000000000000") }
	h := newHarness(t, 0, func(p *model.Params) {
		p.TokenDecimals = 36
		p.FeeBps, p.ReferralFeeBps = 0, 0
		p.TicketPrice.Set(units("1"))
		p.LPPoolCap.Set(units("1000000000"))
	})

	s := h.engine.Snapshot()
	s.Lock = model.AwaitingRandomness
	s.PendingRequest = pendingID
	s.UserPoolTotal.Set(units("100000"))
	usr := model.User{Address: alice, Active: true}
	usr.TicketsPurchasedTotalBps.SetUint64(1_000_000_000)
	s.Users = []model.User{usr}
	s.TicketCountTotalBps.Set(&usr.TicketsPurchasedTotalBps)
	for addr, stake := range map[common.Address]string{carol: "600000", dave: "400000"} {
		p := model.LP{Address: addr, RiskPercentage: 100, Active: true}
		p.Stake.Set(units(stake))
		s.LPs = append(s.LPs, p)
		s.LPPoolTotal.Add(&s.LPPoolTotal, &p.Stake)
	}
	require.NoError(t, h.engine.Restore(s))

	// The range is 10^10 tickets; 10^9 + 1 is past the last one sold.
	res, err := h.engine.OnRandomnessDelivered(context.Background(), pendingID, u(1_000_000_000))
	require.NoError(t, err)
	require.Equal(t, model.OutcomeHouseWins, res.Outcome)

	// The user pool is split 60:40 on top of the returned stakes.
	c, _ := h.engine.LP(carol)
	d, _ := h.engine.LP(dave)
	assert.Equal(t, units("660000"), new(uint256.Int).Add(&c.Principal, &c.Stake))
	assert.Equal(t, units("440000"), new(uint256.Int).Add(&d.Principal, &d.Stake))
	snap := h.engine.Snapshot()
	assert.True(t, snap.LPFeesTotal.IsZero())
}

func TestSettle_CumulativeScanOrder(t *testing.T) {
	h := lockedRound(t, nil, 100,
		map[common.Address]uint64{alice: 3, bob: 5, carol: 2},
		[]common.Address{alice, bob, carol},
		nil,
	)

	// Ticket 4 is past alice's 3 and within bob's running 8.
	res, err := h.engine.OnRandomnessDelivered(context.Background(), pendingID, u(3))
	require.NoError(t, err)

	assert.Equal(t, bob, res.Winner)
	assert.Equal(t, uint64(5), res.WinnerTicketsBps.Uint64())
}

func TestSettle_ResetsRound(t *testing.T) {
	h := newHarness(t, 0, nil)
	ctx := context.Background()

	_, err := h.engine.LPDeposit(ctx, carol, u(1000), 50)
	require.NoError(t, err)
	h.runRound(0)

	_, err = h.engine.PurchaseTickets(ctx, alice, common.Address{}, bob, u(100))
	require.NoError(t, err)
	_, err = h.engine.PurchaseTickets(ctx, bob, common.Address{}, common.Address{}, u(50))
	require.NoError(t, err)
	h.requireConserved()

	res := h.runRound(5)
	require.NotEqual(t, model.OutcomeNoTickets, res.Outcome)

	s := h.engine.Snapshot()
	assert.Equal(t, uint64(3), s.Round)
	assert.True(t, s.UserPoolTotal.IsZero())
	assert.True(t, s.TicketCountTotalBps.IsZero())
	assert.True(t, s.AllFeesTotal.IsZero())
	assert.True(t, s.ReferralFeesTotal.IsZero())
	assert.False(t, h.engine.User(alice).Active)
	assert.False(t, h.engine.User(bob).Active)
	assert.Equal(t, h.now, s.LastJackpotEndTime)
	// Referral fees survive the round.
	assert.Equal(t, u(5), h.engine.ReferralClaimable(bob))
	h.requireConserved()
}

func TestSettle_FeesGoToPoolWithoutLPs(t *testing.T) {
	h := newHarness(t, 0, nil)
	ctx := context.Background()

	_, err := h.engine.PurchaseTickets(ctx, alice, common.Address{}, common.Address{}, u(100))
	require.NoError(t, err)

	res := h.runRound(0)

	assert.Equal(t, model.OutcomeUserPool, res.Outcome)
	assert.Equal(t, uint64(100), res.WinAmount.Uint64())
	h.requireConserved()
}

func TestSettle_ProtocolFee(t *testing.T) {
	h := newHarness(t, 0, func(p *model.Params) { p.ProtocolFeeAddress = treasury })
	ctx := context.Background()

	_, err := h.engine.LPDeposit(ctx, carol, u(1000), 100)
	require.NoError(t, err)
	h.runRound(0)

	_, err = h.engine.PurchaseTickets(ctx, alice, common.Address{}, common.Address{}, u(1000))
	require.NoError(t, err)
	res := h.runRound(0)

	// 100 of LP fees: 10 to the protocol, 90 to the only LP.
	assert.Equal(t, uint64(10), res.ProtocolFee.Uint64())
	assert.Equal(t, uint64(90), res.LPFeesDistributed.Uint64())
	snap := h.engine.Snapshot()
	assert.Equal(t, uint64(10), snap.ProtocolFeeClaimable.Uint64())
	h.requireConserved()

	amount, err := h.engine.WithdrawProtocolFees(ctx)
	require.NoError(t, err)
	assert.Equal(t, u(10), amount)
	assert.Equal(t, uint64(10), h.balance(treasury))
	h.requireConserved()
}

func TestSettle_ProtocolFeeBelowThreshold(t *testing.T) {
	h := newHarness(t, 0, func(p *model.Params) {
		p.ProtocolFeeAddress = treasury
		p.ProtocolFeeThreshold.SetUint64(1000)
	})
	ctx := context.Background()

	_, err := h.engine.PurchaseTickets(ctx, alice, common.Address{}, common.Address{}, u(1000))
	require.NoError(t, err)
	res := h.runRound(0)

	assert.True(t, res.ProtocolFee.IsZero())
	_, err = h.engine.WithdrawProtocolFees(ctx)
	assert.ErrorIs(t, err, ErrNothingToClaim)
}

func TestSettle_Conservation(t *testing.T) {
	for _, random := range []uint64{0, 17, 9_000, 123_456, 999_999_999} {
		h := newHarness(t, 0, func(p *model.Params) { p.ProtocolFeeAddress = treasury })
		ctx := context.Background()

		_, err := h.engine.LPDeposit(ctx, carol, u(3000), 70)
		require.NoError(t, err)
		_, err = h.engine.LPDeposit(ctx, dave, u(1000), 30)
		require.NoError(t, err)
		h.runRound(0)
		h.requireConserved()

		for i, buyer := range []common.Address{alice, bob} {
			_, err = h.engine.PurchaseTickets(ctx, buyer, common.Address{}, treasury, u(uint64(40+i*30)))
			require.NoError(t, err)
		}
		h.runRound(random)
		h.requireConserved()
	}
}

func TestRoundLock(t *testing.T) {
	h := newHarness(t, 0, nil)
	ctx := context.Background()

	_, err := h.engine.RequestRound(ctx, dave, [32]byte{}, u(1))
	assert.ErrorIs(t, err, ErrTooEarly)
	assert.False(t, h.engine.RoundDue())

	h.now = h.engine.NextRoundAt()
	assert.True(t, h.engine.RoundDue())

	_, err = h.engine.RequestRound(ctx, dave, [32]byte{}, u(0))
	assert.ErrorIs(t, err, ErrInsufficientFee)

	req, err := h.engine.RequestRound(ctx, dave, [32]byte{9}, u(5))
	require.NoError(t, err)
	assert.Equal(t, u(1), req.Fee)
	assert.Equal(t, u(4), req.Refund)
	assert.Equal(t, uint64(1), req.Round)
	assert.Equal(t, [32]byte{9}, h.entropy.seeds[0])
	assert.Equal(t, model.AwaitingRandomness, h.engine.LockState())
	assert.False(t, h.engine.RoundDue())

	locked := h.engine.Snapshot()
	emitted := len(h.sink.types())
	daveBalance := h.balance(dave)

	_, err = h.engine.RequestRound(ctx, dave, [32]byte{}, u(1))
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Len(t, h.entropy.seeds, 1, "no second randomness request")
	assert.Equal(t, daveBalance, h.balance(dave))
	_, err = h.engine.PurchaseTickets(ctx, alice, common.Address{}, common.Address{}, u(10))
	assert.ErrorIs(t, err, ErrRoundInProgress)
	_, err = h.engine.LPDeposit(ctx, carol, u(1000), 10)
	assert.ErrorIs(t, err, ErrRoundInProgress)
	assert.ErrorIs(t, h.engine.AdjustRisk(carol, 10), ErrRoundInProgress)

	_, err = h.engine.OnRandomnessDelivered(ctx, req.RequestID+1, u(1))
	assert.ErrorIs(t, err, ErrUnknownRequest)
	assert.Equal(t, locked, h.engine.Snapshot(), "rejected calls leave the locked round untouched")
	assert.Len(t, h.sink.types(), emitted)

	_, err = h.engine.OnRandomnessDelivered(ctx, req.RequestID, u(1))
	require.NoError(t, err)

	settled := h.engine.Snapshot()
	emitted = len(h.sink.types())
	engineBalance := h.balance(engineAddr)

	_, err = h.engine.OnRandomnessDelivered(ctx, req.RequestID, u(1))
	assert.ErrorIs(t, err, ErrNotLocked)
	assert.Equal(t, settled, h.engine.Snapshot())
	assert.Len(t, h.sink.types(), emitted)
	assert.Equal(t, engineBalance, h.balance(engineAddr))
	assert.Len(t, h.entropy.seeds, 1)
}

func TestRoundLock_SettlingRejectsCallback(t *testing.T) {
	h := newHarness(t, 0, nil)
	s := h.engine.Snapshot()
	s.Lock = model.Settling
	s.PendingRequest = pendingID
	require.NoError(t, h.engine.Restore(s))

	_, err := h.engine.OnRandomnessDelivered(context.Background(), pendingID, u(1))
	assert.ErrorIs(t, err, ErrCallbackAlreadyRun)
}

func TestRequestRound_ProviderFailureKeepsIdle(t *testing.T) {
	h := newHarness(t, 0, nil)
	h.entropy.err = errTransferRejected
	h.now = h.engine.NextRoundAt()

	_, err := h.engine.RequestRound(context.Background(), dave, [32]byte{}, u(1))

	assert.ErrorIs(t, err, errTransferRejected)
	assert.Equal(t, model.Idle, h.engine.LockState())
}

func TestSettle_EmitsInOrder(t *testing.T) {
	h := newHarness(t, 0, nil)
	ctx := context.Background()
	_, err := h.engine.LPDeposit(ctx, carol, u(1000), 50)
	require.NoError(t, err)

	h.runRound(0)

	assert.Equal(t, []model.EventType{
		model.EventLPDeposit,
		model.EventRoundRequested,
		model.EventRandomnessDelivered,
		model.EventRoundResult,
		model.EventLPRebalance,
	}, h.sink.types())
}
