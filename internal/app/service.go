/**
 * @description
 * This file contains the core business logic for the pool-service. The
 * `Service` struct is the fulfillment coordinator: it asks the allocation
 * engine how much a claim should receive, drives the two-leg settlement
 * against the chain, and asks the ledger to commit the outcome. It also owns
 * the aggregate lifecycle operations the routing layer exposes.
 *
 * Key behaviors:
 * - Per-claim state machine: Open -> FeeLegPending -> PayoutLegPending ->
 *   Committed, with terminal Rejected / FailedBeforeDebit / FailedAfterFee.
 *   The ledger is debited and credited only on Committed.
 * - Redistribution runs the state machine sequentially over the open requests;
 *   a failed claim never aborts its siblings, and the pool is debited only for
 *   amounts whose legs actually completed.
 * - Operations against one network are serialized via the ledger's settlement
 *   lock; concurrent callers get a retryable busy error.
 * - Financial discrepancies are surfaced in the per-claim result AND published
 *   to the event exchange; they are never mapped to success.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: Entity identifiers.
 * - internal/domain, internal/store: Domain models and ledger access.
 * - pkg/chainclient, pkg/rabbitmq: Chain address validation and event publishing.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aidring/pool-service/internal/domain"
	"github.com/aidring/pool-service/internal/store"
	"github.com/aidring/pool-service/pkg/chainclient"
	"github.com/aidring/pool-service/pkg/rabbitmq"
)

var (
	// ErrValidation indicates a malformed or missing field in a caller request.
	ErrValidation = errors.New("validation failed")
	// ErrRateLimited indicates the settlement rate limit was exceeded for the
	// network; the caller may retry after the reported window.
	ErrRateLimited = errors.New("settlement rate limit exceeded")
)

// Service provides the core business logic for the pooled-resource ledger.
type Service struct {
	ledger          store.Ledger
	settler         settlementExecutor
	eventProducer   rabbitmq.Publisher
	eventExchange   string
	treasuryAddress string

	claimTimeout          time.Duration
	redistributionTimeout time.Duration

	rateLimiter      *RedisSettlementRateLimiter
	rateLimitPerMin  int
	rateLimitEnabled bool
}

// NewService creates a new pool service instance.
func NewService(
	ledger store.Ledger,
	settler settlementExecutor,
	producer rabbitmq.Publisher,
	eventExchange string,
	treasuryAddress string,
	claimTimeout time.Duration,
	redistributionTimeout time.Duration,
) *Service {
	if claimTimeout <= 0 {
		claimTimeout = 2 * time.Minute
	}
	if redistributionTimeout <= 0 {
		redistributionTimeout = 10 * time.Minute
	}
	return &Service{
		ledger:                ledger,
		settler:               settler,
		eventProducer:         producer,
		eventExchange:         eventExchange,
		treasuryAddress:       treasuryAddress,
		claimTimeout:          claimTimeout,
		redistributionTimeout: redistributionTimeout,
	}
}

// SetSettlementRateLimiter enables distributed rate limiting of the
// settlement-initiating operations.
func (s *Service) SetSettlementRateLimiter(limiter *RedisSettlementRateLimiter, perMinute int) {
	s.rateLimiter = limiter
	s.rateLimitPerMin = perMinute
	s.rateLimitEnabled = limiter != nil && perMinute > 0
}

// ----- Aggregate lifecycle -----

// CreateNetwork registers a new mutual-aid network.
func (s *Service) CreateNetwork(ctx context.Context, name, description string) (*domain.Network, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: network name is required", ErrValidation)
	}
	return s.ledger.CreateNetwork(ctx, strings.TrimSpace(name), description)
}

// GetNetwork returns the full aggregate.
func (s *Service) GetNetwork(ctx context.Context, networkID uuid.UUID) (*domain.Network, error) {
	return s.ledger.GetNetwork(ctx, networkID)
}

// ListNetworks returns every known network.
func (s *Service) ListNetworks(ctx context.Context) ([]*domain.Network, error) {
	return s.ledger.ListNetworks(ctx)
}

// AddMember registers a member with a valid, network-unique chain address.
func (s *Service) AddMember(ctx context.Context, networkID uuid.UUID, address, displayName string) (*domain.Member, error) {
	address = strings.TrimSpace(address)
	if !chainclient.ValidAddress(address) {
		return nil, fmt.Errorf("%w: %q is not a valid chain address", ErrValidation, address)
	}
	if strings.TrimSpace(displayName) == "" {
		return nil, fmt.Errorf("%w: display name is required", ErrValidation)
	}
	return s.ledger.AddMember(ctx, networkID, address, strings.TrimSpace(displayName))
}

// FindMemberByAddress resolves a chain address to the network's member record,
// case-insensitively. Used to answer "which member am I" for an authenticated
// caller address.
func (s *Service) FindMemberByAddress(ctx context.Context, networkID uuid.UUID, address string) (*domain.Member, error) {
	address = strings.TrimSpace(address)
	if !chainclient.ValidAddress(address) {
		return nil, fmt.Errorf("%w: %q is not a valid chain address", ErrValidation, address)
	}
	return s.ledger.FindMemberByAddress(ctx, networkID, address)
}

// CreateRequest opens a new need-based request for a member.
func (s *Service) CreateRequest(ctx context.Context, networkID, memberID uuid.UUID, amount domain.Amount, reason string) (*domain.Request, error) {
	if amount.IsZero() {
		return nil, fmt.Errorf("%w: requested amount must be greater than zero", ErrValidation)
	}
	return s.ledger.CreateRequest(ctx, networkID, memberID, amount, reason)
}

// GetRequest returns one request.
func (s *Service) GetRequest(ctx context.Context, networkID, requestID uuid.UUID) (*domain.Request, error) {
	return s.ledger.GetRequest(ctx, networkID, requestID)
}

// ListRequests returns every request of a network in creation order.
func (s *Service) ListRequests(ctx context.Context, networkID uuid.UUID) ([]*domain.Request, error) {
	return s.ledger.ListRequests(ctx, networkID)
}

// CreateOffer opens a non-monetary offer.
func (s *Service) CreateOffer(ctx context.Context, networkID, memberID uuid.UUID, description string) (*domain.Offer, error) {
	if strings.TrimSpace(description) == "" {
		return nil, fmt.Errorf("%w: offer description is required", ErrValidation)
	}
	return s.ledger.CreateOffer(ctx, networkID, memberID, strings.TrimSpace(description))
}

// CloseOffer closes an open offer.
func (s *Service) CloseOffer(ctx context.Context, networkID, offerID uuid.UUID) (*domain.Offer, error) {
	return s.ledger.CloseOffer(ctx, networkID, offerID)
}

// ----- Monetary operations -----

// RecordContribution credits a member's contribution to the pool. The funds
// are already confirmed to exist; the originating transfer, if any, is the
// caller's concern.
func (s *Service) RecordContribution(ctx context.Context, networkID, memberID uuid.UUID, amount domain.Amount) (domain.Amount, error) {
	if amount.IsZero() {
		return domain.Amount{}, fmt.Errorf("%w: contribution amount must be greater than zero", ErrValidation)
	}

	newBalance, err := s.ledger.RecordContribution(ctx, networkID, memberID, amount)
	if err != nil {
		return domain.Amount{}, err
	}

	s.publish(ctx, rabbitmq.RoutingKeyContribution, rabbitmq.ContributionRecordedEvent{
		NetworkID:  networkID,
		MemberID:   memberID,
		Amount:     amount.String(),
		NewBalance: newBalance.String(),
		Timestamp:  time.Now().UTC(),
	})
	return newBalance, nil
}

// FulfillSingle processes one request under the single-fulfillment policy:
// all-or-nothing against the current pool balance. On a settlement failure the
// returned result carries the terminal claim outcome; the ledger is only
// touched when both legs confirmed.
func (s *Service) FulfillSingle(ctx context.Context, networkID, requestID uuid.UUID) (*domain.FulfillmentResult, error) {
	if err := s.consumeRateLimit(ctx, "fulfill", networkID); err != nil {
		return nil, err
	}

	// Serialize against other settlements on this network: the sufficiency
	// check and the commit must observe the same pool balance.
	if err := s.ledger.LockNetwork(networkID); err != nil {
		return nil, err
	}
	defer s.ledger.UnlockNetwork(networkID)

	request, err := s.ledger.GetRequest(ctx, networkID, requestID)
	if err != nil {
		return nil, err
	}
	if request.Status != domain.RequestStatusOpen {
		return nil, store.ErrRequestNotOpen
	}

	member, err := s.ledger.GetMember(ctx, networkID, request.MemberID)
	if err != nil {
		return nil, err
	}
	network, err := s.ledger.GetNetwork(ctx, networkID)
	if err != nil {
		return nil, err
	}

	allocated, err := allocateSingle(request.RequestedAmount, network.PoolBalance)
	if err != nil {
		log.Printf("level=info component=coordinator op=fulfill_single network_id=%s request_id=%s msg=\"allocation rejected\" requested=%s pool=%s",
			networkID, requestID, request.RequestedAmount, network.PoolBalance)
		return nil, err
	}

	claim := s.executeClaim(ctx, networkID, request, member.Address, allocated, true)
	s.reportClaim(ctx, networkID, claim)

	balance := network.PoolBalance
	if fresh, freshErr := s.ledger.GetNetwork(ctx, networkID); freshErr == nil {
		balance = fresh.PoolBalance
	}

	return &domain.FulfillmentResult{Claim: claim, PoolBalance: balance}, nil
}

// Redistribute processes every open request of a network under the
// proportional policy. Claims are settled sequentially; each claim's outcome
// is independent of its siblings, and claims the time budget never reached are
// reported as skipped.
func (s *Service) Redistribute(ctx context.Context, networkID uuid.UUID) (*domain.RedistributionReport, error) {
	if err := s.consumeRateLimit(ctx, "redistribute", networkID); err != nil {
		return nil, err
	}

	if err := s.ledger.LockNetwork(networkID); err != nil {
		return nil, err
	}
	defer s.ledger.UnlockNetwork(networkID)

	open, err := s.ledger.ListOpenRequests(ctx, networkID)
	if err != nil {
		return nil, err
	}
	network, err := s.ledger.GetNetwork(ctx, networkID)
	if err != nil {
		return nil, err
	}

	allocations, noop, err := allocateProportional(open, network.PoolBalance)
	if err != nil {
		return nil, err
	}
	if noop {
		return &domain.RedistributionReport{
			NetworkID:   networkID,
			Ratio:       "0",
			Claims:      []domain.ClaimResult{},
			Committed:   domain.ZeroAmount(),
			PoolBalance: network.PoolBalance,
			NoOp:        true,
		}, nil
	}

	total := domain.ZeroAmount()
	for _, r := range open {
		total = total.Add(r.RequestedAmount)
	}

	// The overall budget bounds how long the network lock is held across the
	// sequential blocking settlement calls.
	overallCtx, cancel := context.WithTimeout(ctx, s.redistributionTimeout)
	defer cancel()

	report := &domain.RedistributionReport{
		NetworkID: networkID,
		Ratio:     allocationRatio(network.PoolBalance, total),
		Claims:    make([]domain.ClaimResult, 0, len(allocations)),
		Committed: domain.ZeroAmount(),
	}

	committedCount := 0
	for _, allocation := range allocations {
		if overallCtx.Err() != nil {
			report.Claims = append(report.Claims, domain.ClaimResult{
				RequestID:     allocation.request.ID,
				MemberID:      allocation.request.MemberID,
				Outcome:       domain.ClaimSkipped,
				Allocated:     allocation.allocated,
				FailureDetail: "redistribution time budget exhausted before this claim started",
			})
			continue
		}

		member, memberErr := s.ledger.GetMember(overallCtx, networkID, allocation.request.MemberID)
		if memberErr != nil {
			report.Claims = append(report.Claims, domain.ClaimResult{
				RequestID:     allocation.request.ID,
				MemberID:      allocation.request.MemberID,
				Outcome:       domain.ClaimRejected,
				Allocated:     allocation.allocated,
				FailureDetail: fmt.Sprintf("member lookup failed: %v", memberErr),
			})
			continue
		}

		claim := s.executeClaim(overallCtx, networkID, allocation.request, member.Address, allocation.allocated, allocation.full)
		s.reportClaim(ctx, networkID, claim)
		report.Claims = append(report.Claims, claim)

		if claim.Outcome == domain.ClaimCommitted {
			report.Committed = report.Committed.Add(claim.Allocated)
			committedCount++
		}
	}

	if fresh, freshErr := s.ledger.GetNetwork(ctx, networkID); freshErr == nil {
		report.PoolBalance = fresh.PoolBalance
	}

	s.publish(ctx, rabbitmq.RoutingKeyRedistributed, rabbitmq.RedistributionCompletedEvent{
		NetworkID:      networkID,
		ClaimCount:     len(report.Claims),
		CommittedCount: committedCount,
		CommittedTotal: report.Committed.String(),
		Timestamp:      time.Now().UTC(),
	})

	return report, nil
}

// executeClaim drives one claim through the two-leg settlement state machine.
// It returns a terminal ClaimResult; only the Committed outcome touches the
// ledger.
func (s *Service) executeClaim(ctx context.Context, networkID uuid.UUID, request *domain.Request, recipientAddress string, allocated domain.Amount, isFull bool) domain.ClaimResult {
	fee, net := splitPayout(allocated)
	result := domain.ClaimResult{
		RequestID: request.ID,
		MemberID:  request.MemberID,
		Allocated: allocated,
		Fee:       fee,
		NetPayout: net,
	}

	claimCtx, cancel := context.WithTimeout(ctx, s.claimTimeout)
	defer cancel()

	// Fee leg to the treasury. A failure here leaves the ledger untouched, but
	// whether the fee actually landed on chain is unknowable from this side,
	// so the outcome is reported for manual reconciliation rather than
	// swallowed. A zero fee (dust-sized allocation) skips the leg entirely.
	feeConfirmed := false
	if !fee.IsZero() {
		feeReceipt, err := s.settler.Transfer(claimCtx, s.treasuryAddress, fee)
		if err != nil {
			result.Outcome = domain.ClaimFailedBeforeDebit
			result.FailureDetail = fmt.Sprintf("fee leg failed: %v", err)
			attachRef(&result.FeeRef, err)
			log.Printf("level=error component=coordinator op=execute_claim network_id=%s request_id=%s outcome=%s err=%v",
				networkID, request.ID, result.Outcome, err)
			return result
		}
		ref := feeReceipt.Ref
		result.FeeRef = &ref
		feeConfirmed = true
	}

	// Net payout leg to the recipient. When the fee leg was actually sent, a
	// failure here is a financial discrepancy: treasury holds the fee with no
	// matching ledger debit. When the fee leg was skipped, nothing reached the
	// treasury and the failure leaves the ledger untouched.
	payoutReceipt, err := s.settler.Transfer(claimCtx, recipientAddress, net)
	if err != nil {
		if feeConfirmed {
			result.Outcome = domain.ClaimFailedAfterFee
			result.FailureDetail = fmt.Sprintf("payout leg failed after fee leg confirmed: %v", err)
		} else {
			result.Outcome = domain.ClaimFailedBeforeDebit
			result.FailureDetail = fmt.Sprintf("payout leg failed: %v", err)
		}
		attachRef(&result.PayoutRef, err)
		log.Printf("level=error component=coordinator op=execute_claim network_id=%s request_id=%s outcome=%s fee=%s err=%v",
			networkID, request.ID, result.Outcome, fee, err)
		return result
	}
	ref := payoutReceipt.Ref
	result.PayoutRef = &ref

	// Both legs confirmed: debit the pool and commit the outcome. The credit
	// is the allocated gross amount actually settled across the two legs, not
	// the originally requested amount.
	if err := s.ledger.DebitPool(ctx, networkID, allocated); err != nil {
		log.Printf("level=error component=coordinator msg=\"CRITICAL: pool debit failed after settlement completed\" network_id=%s request_id=%s allocated=%s err=%v",
			networkID, request.ID, allocated, err)
	}
	if err := s.ledger.CommitRequestOutcome(ctx, networkID, request.ID, allocated, isFull, payoutReceipt.Ref); err != nil {
		log.Printf("level=error component=coordinator msg=\"CRITICAL: outcome commit failed after settlement completed\" network_id=%s request_id=%s settlement_ref=%s err=%v",
			networkID, request.ID, payoutReceipt.Ref, err)
	}

	result.Outcome = domain.ClaimCommitted
	return result
}

// reportClaim publishes the events a terminal claim warrants.
func (s *Service) reportClaim(ctx context.Context, networkID uuid.UUID, claim domain.ClaimResult) {
	switch {
	case claim.Outcome == domain.ClaimCommitted:
		status := string(domain.RequestStatusFulfilled)
		if fresh, err := s.ledger.GetRequest(ctx, networkID, claim.RequestID); err == nil {
			status = string(fresh.Status)
		}
		ref := ""
		if claim.PayoutRef != nil {
			ref = *claim.PayoutRef
		}
		s.publish(ctx, rabbitmq.RoutingKeyFulfilled, rabbitmq.RequestFulfilledEvent{
			NetworkID:     networkID,
			RequestID:     claim.RequestID,
			MemberID:      claim.MemberID,
			Allocated:     claim.Allocated.String(),
			Status:        status,
			SettlementRef: ref,
			Timestamp:     time.Now().UTC(),
		})
	case claim.Outcome.Discrepancy():
		s.publish(ctx, rabbitmq.RoutingKeyDiscrepancy, rabbitmq.SettlementDiscrepancyEvent{
			NetworkID: networkID,
			RequestID: claim.RequestID,
			Outcome:   string(claim.Outcome),
			Fee:       claim.Fee.String(),
			FeeRef:    claim.FeeRef,
			Detail:    claim.FailureDetail,
			Timestamp: time.Now().UTC(),
		})
	}
}

func (s *Service) publish(ctx context.Context, routingKey string, body interface{}) {
	if s.eventProducer == nil {
		return
	}
	if err := s.eventProducer.Publish(ctx, s.eventExchange, routingKey, body); err != nil {
		log.Printf("level=warn component=coordinator msg=\"event publish failed\" routing_key=%s err=%v", routingKey, err)
	}
}

func (s *Service) consumeRateLimit(ctx context.Context, scope string, networkID uuid.UUID) error {
	if !s.rateLimitEnabled {
		return nil
	}
	count, retryAfter, err := s.rateLimiter.ConsumeRateLimit(ctx, scope, networkID.String(), s.rateLimitPerMin, time.Minute)
	if err != nil {
		// Limiter outages must not block settlements.
		log.Printf("level=warn component=coordinator msg=\"rate limiter unavailable; allowing call\" scope=%s err=%v", scope, err)
		return nil
	}
	if count > s.rateLimitPerMin {
		return fmt.Errorf("%w: retry after %ds", ErrRateLimited, retryAfter)
	}
	return nil
}

// attachRef records the settlement reference from a SettlementError when the
// failed submission got far enough to obtain one.
func attachRef(target **string, err error) {
	var settlementErr *SettlementError
	if errors.As(err, &settlementErr) && settlementErr.TransferRef != "" {
		ref := settlementErr.TransferRef
		*target = &ref
	}
}
