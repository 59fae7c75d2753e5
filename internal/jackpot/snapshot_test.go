package jackpot

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coordinationlabs/jackpot-engine/internal/model"
)

func populated(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t, 0, func(p *model.Params) { p.ProtocolFeeAddress = treasury })
	ctx := context.Background()

	_, err := h.engine.LPDeposit(ctx, carol, u(2000), 60)
	require.NoError(t, err)
	_, err = h.engine.LPDeposit(ctx, dave, u(500), 100)
	require.NoError(t, err)
	h.runRound(0)

	_, err = h.engine.PurchaseTickets(ctx, alice, common.Address{}, bob, u(300))
	require.NoError(t, err)
	h.runRound(0)

	_, err = h.engine.PurchaseTickets(ctx, bob, common.Address{}, alice, u(120))
	require.NoError(t, err)
	_, err = h.engine.PurchaseTickets(ctx, alice, common.Address{}, common.Address{}, u(40))
	require.NoError(t, err)
	return h
}

func TestSnapshot_RestoreRoundTrip(t *testing.T) {
	src := populated(t)
	snap := src.engine.Snapshot()
	require.NotEmpty(t, snap.Users)
	require.Len(t, snap.LPs, 2)

	dst := newHarness(t, 0, nil)
	dst.now = src.now
	require.NoError(t, dst.engine.Restore(snap))

	assert.Equal(t, snap, dst.engine.Snapshot())
}

func TestSnapshot_JSONRoundTrip(t *testing.T) {
	src := populated(t)
	snap := src.engine.Snapshot()

	raw, err := json.Marshal(&snap)
	require.NoError(t, err)
	var decoded model.Snapshot
	require.NoError(t, json.Unmarshal(raw, &decoded))

	dst := newHarness(t, 0, nil)
	dst.now = src.now
	require.NoError(t, dst.engine.Restore(decoded))

	got := dst.engine.Snapshot()
	assert.True(t, got.UserPoolTotal.Eq(&snap.UserPoolTotal))
	assert.True(t, got.LPPoolTotal.Eq(&snap.LPPoolTotal))
	assert.Equal(t, len(snap.Users), len(got.Users))
	assert.Equal(t, snap.Params.TicketPrice, got.Params.TicketPrice)
}

func TestRestore_RejectsInconsistentSnapshot(t *testing.T) {
	h := populated(t)

	s := h.engine.Snapshot()
	s.TicketCountTotalBps.AddUint64(&s.TicketCountTotalBps, 1)
	assert.ErrorIs(t, h.engine.Restore(s), ErrInconsistentSnapshot)

	s = h.engine.Snapshot()
	s.LPPoolTotal.AddUint64(&s.LPPoolTotal, 1)
	assert.ErrorIs(t, h.engine.Restore(s), ErrInconsistentSnapshot)

	s = h.engine.Snapshot()
	s.Params.TicketPrice.Clear()
	assert.ErrorIs(t, h.engine.Restore(s), ErrInvalidParams)

	h.requireConserved()
}
