/**
 * @description
 * This file defines the core domain models for the pool-service. A Network is
 * the aggregate root: it owns the shared pool balance and the ordered lists of
 * Members, Requests, and Offers. These structs are the authoritative in-memory
 * ledger state; the service holds them for the process lifetime only.
 *
 * @notes
 * - All monetary fields use the fixed-point Amount type, never floats.
 * - Request status transitions are strictly one-way: open -> partial|fulfilled.
 *
 * @dependencies
 * - github.com/google/uuid: Entity identifiers.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// RequestStatus is the lifecycle state of a need-based request.
type RequestStatus string

const (
	RequestStatusOpen      RequestStatus = "open"
	RequestStatusPartial   RequestStatus = "partial"
	RequestStatusFulfilled RequestStatus = "fulfilled"
)

// OfferStatus is the lifecycle state of a non-monetary offer.
type OfferStatus string

const (
	OfferStatusOpen   OfferStatus = "open"
	OfferStatusClosed OfferStatus = "closed"
)

// Network is the aggregate root for one mutual-aid pool. It owns all child
// entities and the pool balance fed by contributions and drained by
// fulfillments.
type Network struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	PoolBalance Amount     `json:"pool_balance"`
	Members     []*Member  `json:"members"`
	Requests    []*Request `json:"requests"`
	Offers      []*Offer   `json:"offers"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Member is a participant in exactly one Network, identified on the settlement
// chain by their account address. Addresses are case-insensitive and unique
// within a network.
type Member struct {
	ID            uuid.UUID `json:"id"`
	Address       string    `json:"address"`
	DisplayName   string    `json:"display_name"`
	Contributions Amount    `json:"contributions"`
	Received      Amount    `json:"received"`
	JoinedAt      time.Time `json:"joined_at"`
}

// Request is a member's need-based claim against the pool. FulfilledAmount and
// SettlementRef are set once a settlement has completed for the request.
type Request struct {
	ID              uuid.UUID     `json:"id"`
	MemberID        uuid.UUID     `json:"member_id"`
	RequestedAmount Amount        `json:"requested_amount"`
	Reason          string        `json:"reason"`
	Status          RequestStatus `json:"status"`
	FulfilledAmount *Amount       `json:"fulfilled_amount,omitempty"`
	SettlementRef   *string       `json:"settlement_ref,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	FulfilledAt     *time.Time    `json:"fulfilled_at,omitempty"`
}

// Offer is a non-monetary offer of help within a network. Offers are part of
// the aggregate for completeness but take no part in settlement.
type Offer struct {
	ID          uuid.UUID   `json:"id"`
	MemberID    uuid.UUID   `json:"member_id"`
	Description string      `json:"description"`
	Status      OfferStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
}

// ClaimOutcome classifies the terminal state of one claim's fulfillment state
// machine.
type ClaimOutcome string

const (
	// ClaimCommitted means both settlement legs confirmed and the ledger was
	// debited and credited.
	ClaimCommitted ClaimOutcome = "committed"
	// ClaimRejected means the allocation engine refused the claim; the ledger
	// and the chain are untouched.
	ClaimRejected ClaimOutcome = "rejected"
	// ClaimFailedBeforeDebit means settlement failed before any confirmed
	// transfer reached the treasury; no ledger debit was applied.
	ClaimFailedBeforeDebit ClaimOutcome = "failed_before_debit"
	// ClaimFailedAfterFee means the fee leg confirmed but the payout leg
	// failed. Treasury holds funds with no matching ledger update; this is a
	// financial discrepancy requiring out-of-band reconciliation.
	ClaimFailedAfterFee ClaimOutcome = "failed_after_fee"
	// ClaimSkipped means the redistribution's time budget ran out before any
	// leg of this claim was initiated; nothing moved on chain or in the ledger.
	ClaimSkipped ClaimOutcome = "skipped"
)

// Discrepancy reports whether the outcome represents money that left treasury
// accounting without a matching ledger update.
func (o ClaimOutcome) Discrepancy() bool {
	return o == ClaimFailedAfterFee
}

// ClaimResult records the terminal state of one claim, including the
// settlement references of whichever legs were actually submitted.
type ClaimResult struct {
	RequestID     uuid.UUID    `json:"request_id"`
	MemberID      uuid.UUID    `json:"member_id"`
	Outcome       ClaimOutcome `json:"outcome"`
	Allocated     Amount       `json:"allocated"`
	Fee           Amount       `json:"fee"`
	NetPayout     Amount       `json:"net_payout"`
	FeeRef        *string      `json:"fee_settlement_ref,omitempty"`
	PayoutRef     *string      `json:"payout_settlement_ref,omitempty"`
	FailureDetail string       `json:"failure_detail,omitempty"`
}

// FulfillmentResult is the outcome of a single-request fulfillment.
type FulfillmentResult struct {
	Claim       ClaimResult `json:"claim"`
	PoolBalance Amount      `json:"pool_balance"`
}

// RedistributionReport is the per-claim outcome list of one proportional
// redistribution pass, plus the pool state it left behind. Committed reflects
// only amounts whose settlement legs actually completed.
type RedistributionReport struct {
	NetworkID   uuid.UUID     `json:"network_id"`
	Ratio       string        `json:"ratio"`
	Claims      []ClaimResult `json:"claims"`
	Committed   Amount        `json:"committed_total"`
	PoolBalance Amount        `json:"pool_balance"`
	NoOp        bool          `json:"no_op"`
}
