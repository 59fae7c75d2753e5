package jackpot

import (
	"bytes"
	"errors"
	"fmt"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/coordinationlabs/jackpot-engine/internal/claims"
	"github.com/coordinationlabs/jackpot-engine/internal/lp"
	"github.com/coordinationlabs/jackpot-engine/internal/model"
	"github.com/coordinationlabs/jackpot-engine/internal/tickets"
)

// ErrInconsistentSnapshot is returned by Restore when a snapshot's totals
// disagree with its per-participant records.
var ErrInconsistentSnapshot = errors.New("jackpot: inconsistent snapshot")

// Snapshot copies every ledger.
func (e *Engine) Snapshot() model.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := model.Snapshot{
		Params:             e.params,
		Lock:               e.lock,
		PendingRequest:     e.pendingRequest,
		Round:              e.round,
		LastJackpotEndTime: e.lastJackpotEndTime,
		LastWinnerAddress:  e.lastWinner,
		LPs:                e.lps.All(),
		TakenAt:            e.now().UTC(),
	}
	s.LPPoolTotal.Set(&e.lpPoolTotal)
	s.UserPoolTotal.Set(&e.userPoolTotal)
	s.TicketCountTotalBps.Set(e.tickets.Total())
	s.AllFeesTotal.Set(&e.allFeesTotal)
	s.LPFeesTotal.Set(&e.lpFeesTotal)
	s.ReferralFeesTotal.Set(&e.referralFeesTotal)
	s.ProtocolFeeClaimable.Set(e.claims.Balance(claims.Protocol, common.Address{}))

	seen := make(map[common.Address]bool)
	for _, addr := range e.tickets.Holders() {
		s.Users = append(s.Users, e.user(addr))
		seen[addr] = true
	}
	for _, w := range sortedEntries(e.claims.Entries(claims.Winnings)) {
		if !seen[w.Address] {
			s.Users = append(s.Users, e.user(w.Address))
		}
	}
	for _, r := range sortedEntries(e.claims.Entries(claims.Referral)) {
		b := model.Balance{Address: r.Address}
		b.Amount.Set(r.Amount)
		s.ReferralClaimable = append(s.ReferralClaimable, b)
	}
	return s
}

// Restore replaces every ledger with the snapshot's content.
func (e *Engine) Restore(s model.Snapshot) error {
	if err := validateParams(s.Params); err != nil {
		return err
	}

	ticketLedger := tickets.NewLedger()
	claimLedger := claims.NewLedger()
	for _, u := range s.Users {
		if u.Active {
			ticketLedger.Credit(u.Address, &u.TicketsPurchasedTotalBps)
		}
		claimLedger.Credit(claims.Winnings, u.Address, &u.WinningsClaimable)
	}
	if !ticketLedger.Total().Eq(&s.TicketCountTotalBps) {
		return fmt.Errorf("%w: ticket weights sum to %v, total is %v",
			ErrInconsistentSnapshot, ticketLedger.Total(), &s.TicketCountTotalBps)
	}
	for _, r := range s.ReferralClaimable {
		claimLedger.Credit(claims.Referral, r.Address, &r.Amount)
	}
	claimLedger.Credit(claims.Protocol, common.Address{}, &s.ProtocolFeeClaimable)

	registry := lp.NewRegistry()
	staked := new(uint256.Int)
	for _, p := range s.LPs {
		registry.Restore(p)
		staked.Add(staked, &p.Stake)
	}
	if !staked.Eq(&s.LPPoolTotal) {
		return fmt.Errorf("%w: LP stakes sum to %v, pool is %v", ErrInconsistentSnapshot, staked, &s.LPPoolTotal)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.params = s.Params
	e.capacity = capacityOf(s.Params)
	e.tickets = ticketLedger
	e.claims = claimLedger
	e.lps = registry
	e.lock = s.Lock
	e.pendingRequest = s.PendingRequest
	e.round = s.Round
	e.lastJackpotEndTime = s.LastJackpotEndTime
	e.lastWinner = s.LastWinnerAddress
	e.lpPoolTotal.Set(&s.LPPoolTotal)
	e.userPoolTotal.Set(&s.UserPoolTotal)
	e.allFeesTotal.Set(&s.AllFeesTotal)
	e.lpFeesTotal.Set(&s.LPFeesTotal)
	e.referralFeesTotal.Set(&s.ReferralFeesTotal)
	return nil
}

func sortedEntries(entries []claims.Entry) []claims.Entry {
	slices.SortFunc(entries, func(a, b claims.Entry) int {
		return bytes.Compare(a.Address[:], b.Address[:])
	})
	return entries
}
