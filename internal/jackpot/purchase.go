package jackpot

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/coordinationlabs/jackpot-engine/internal/claims"
	"github.com/coordinationlabs/jackpot-engine/internal/fees"
	"github.com/coordinationlabs/jackpot-engine/internal/model"
	"github.com/coordinationlabs/jackpot-engine/internal/tickets"
)

// PurchaseReceipt describes a completed ticket purchase.
type PurchaseReceipt struct {
	Recipient   common.Address
	TicketCount *uint256.Int
	TicketsBps  *uint256.Int
	UsedAmount  *uint256.Int
	Refund      *uint256.Int
	Fees        fees.Split
}

// PurchaseTickets pulls amount from buyer and credits whole tickets to
// recipient (the buyer when zero). Whatever does not make up a whole ticket
// is sent back to the buyer. A zero referrer means no referral fee.
func (e *Engine) PurchaseTickets(ctx context.Context, buyer, recipient, referrer common.Address, amount *uint256.Int) (PurchaseReceipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if buyer == (common.Address{}) {
		return PurchaseReceipt{}, ErrZeroAddress
	}
	if amount == nil || amount.IsZero() {
		return PurchaseReceipt{}, ErrInsufficientAmount
	}
	if !e.params.PurchasingEnabled {
		return PurchaseReceipt{}, ErrPurchasingDisabled
	}
	if e.lock != model.Idle {
		return PurchaseReceipt{}, ErrRoundInProgress
	}
	if referrer == buyer {
		return PurchaseReceipt{}, ErrSelfReferral
	}
	if recipient == (common.Address{}) {
		recipient = buyer
	}
	price := &e.params.TicketPrice
	if amount.Lt(price) {
		return PurchaseReceipt{}, ErrInsufficientAmount
	}
	if !e.tickets.IsActive(recipient) {
		if err := e.capacity.CheckNewUser(e.tickets.Len()); err != nil {
			return PurchaseReceipt{}, err
		}
	}

	received, err := e.pull(ctx, buyer, amount)
	if err != nil {
		return PurchaseReceipt{}, err
	}

	ticketCount := new(uint256.Int).Div(received, price)
	if ticketCount.IsZero() {
		// A transfer fee ate into the payment; hand back what arrived.
		if err := e.push(ctx, buyer, received); err != nil {
			return PurchaseReceipt{}, err
		}
		return PurchaseReceipt{}, ErrInsufficientAmount
	}
	used := new(uint256.Int).Mul(ticketCount, price)
	refund := new(uint256.Int).Sub(received, used)
	if err := e.refund(ctx, buyer, refund, received); err != nil {
		slog.Error("purchase refund failed", "buyer", buyer, "received", received, "err", err)
		return PurchaseReceipt{}, err
	}

	split := fees.Calculate(used, referrer != (common.Address{}), e.params.FeeBps, e.params.ReferralFeeBps)
	weight := tickets.Weight(ticketCount, e.params.FeeBps)

	e.tickets.Credit(recipient, weight)
	e.allFeesTotal.Add(&e.allFeesTotal, split.All)
	e.lpFeesTotal.Add(&e.lpFeesTotal, split.LP)
	e.referralFeesTotal.Add(&e.referralFeesTotal, split.Referral)
	e.claims.Credit(claims.Referral, referrer, split.Referral)
	net := new(uint256.Int).Sub(used, split.All)
	e.userPoolTotal.Add(&e.userPoolTotal, net)

	slog.Info("tickets purchased",
		"buyer", buyer,
		"recipient", recipient,
		"tickets", ticketCount,
		"used", used,
		"refund", refund,
		"round", e.round,
	)
	e.emit(model.EventTicketPurchase, model.TicketPurchase{
		Buyer:       buyer,
		Recipient:   recipient,
		Referrer:    referrer,
		TicketCount: ticketCount,
		TicketsBps:  weight,
		UsedAmount:  used,
		Refund:      refund,
		ReferralFee: split.Referral,
	})

	return PurchaseReceipt{
		Recipient:   recipient,
		TicketCount: ticketCount,
		TicketsBps:  weight,
		UsedAmount:  used,
		Refund:      refund,
		Fees:        split,
	}, nil
}
