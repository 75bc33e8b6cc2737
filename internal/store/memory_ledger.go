/**
 * @description
 * This file implements the `Ledger` interface on top of process-local memory.
 * Each Network aggregate is guarded by its own state mutex so mutations are
 * atomic per entity, and a separate per-network settlement lock (acquired via
 * TryLock) serializes whole fulfillment and redistribution flows. The ledger
 * lives for the process lifetime only; there is deliberately no persistence.
 *
 * Key invariants enforced here:
 * - The pool balance never goes negative (DebitPool fails with ErrPoolUnderflow).
 * - Member addresses are unique per network, compared case-insensitively.
 * - Request status transitions are one-way: open -> partial|fulfilled.
 * - CommitRequestOutcome is idempotent by settlement reference; a duplicate
 *   reference never double-credits a member.
 *
 * @dependencies
 * - context, strings, sync, time: Standard Go libraries.
 * - github.com/google/uuid: Entity identifiers.
 * - internal/domain: Domain models.
 */

package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aidring/pool-service/internal/domain"
)

// networkState wraps one Network aggregate with its two locks: `mu` guards the
// aggregate's fields for atomic mutations, `settle` serializes whole settlement
// flows and is only ever acquired with TryLock.
type networkState struct {
	mu          sync.Mutex
	settle      sync.Mutex
	network     *domain.Network
	settledRefs map[string]struct{}
}

// MemoryLedger is the in-memory Ledger implementation.
type MemoryLedger struct {
	mu       sync.RWMutex
	networks map[uuid.UUID]*networkState
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{networks: make(map[uuid.UUID]*networkState)}
}

func (l *MemoryLedger) state(networkID uuid.UUID) (*networkState, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	st, ok := l.networks[networkID]
	if !ok {
		return nil, ErrNetworkNotFound
	}
	return st, nil
}

// CreateNetwork registers a new, empty network aggregate.
func (l *MemoryLedger) CreateNetwork(ctx context.Context, name, description string) (*domain.Network, error) {
	network := &domain.Network{
		ID:          uuid.New(),
		Name:        name,
		Description: description,
		PoolBalance: domain.ZeroAmount(),
		CreatedAt:   time.Now().UTC(),
	}

	l.mu.Lock()
	l.networks[network.ID] = &networkState{
		network:     network,
		settledRefs: make(map[string]struct{}),
	}
	l.mu.Unlock()

	return snapshotNetwork(network), nil
}

// GetNetwork returns a point-in-time copy of the aggregate.
func (l *MemoryLedger) GetNetwork(ctx context.Context, networkID uuid.UUID) (*domain.Network, error) {
	st, err := l.state(networkID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return snapshotNetwork(st.network), nil
}

// ListNetworks returns copies of every known aggregate.
func (l *MemoryLedger) ListNetworks(ctx context.Context) ([]*domain.Network, error) {
	l.mu.RLock()
	states := make([]*networkState, 0, len(l.networks))
	for _, st := range l.networks {
		states = append(states, st)
	}
	l.mu.RUnlock()

	networks := make([]*domain.Network, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		networks = append(networks, snapshotNetwork(st.network))
		st.mu.Unlock()
	}
	return networks, nil
}

// AddMember registers a member in a network. The chain address must be unique
// within the network; comparison is case-insensitive.
func (l *MemoryLedger) AddMember(ctx context.Context, networkID uuid.UUID, address, displayName string) (*domain.Member, error) {
	st, err := l.state(networkID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	normalized := strings.ToLower(strings.TrimSpace(address))
	for _, m := range st.network.Members {
		if strings.ToLower(m.Address) == normalized {
			return nil, ErrDuplicateMemberAddress
		}
	}

	member := &domain.Member{
		ID:            uuid.New(),
		Address:       strings.TrimSpace(address),
		DisplayName:   displayName,
		Contributions: domain.ZeroAmount(),
		Received:      domain.ZeroAmount(),
		JoinedAt:      time.Now().UTC(),
	}
	st.network.Members = append(st.network.Members, member)

	copied := *member
	return &copied, nil
}

// FindMemberByAddress resolves a member by chain address, case-insensitively.
func (l *MemoryLedger) FindMemberByAddress(ctx context.Context, networkID uuid.UUID, address string) (*domain.Member, error) {
	st, err := l.state(networkID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	normalized := strings.ToLower(strings.TrimSpace(address))
	for _, m := range st.network.Members {
		if strings.ToLower(m.Address) == normalized {
			copied := *m
			return &copied, nil
		}
	}
	return nil, ErrMemberNotFound
}

// GetMember returns a copy of one member.
func (l *MemoryLedger) GetMember(ctx context.Context, networkID, memberID uuid.UUID) (*domain.Member, error) {
	st, err := l.state(networkID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	member := findMember(st.network, memberID)
	if member == nil {
		return nil, ErrMemberNotFound
	}
	copied := *member
	return &copied, nil
}

// CreateRequest appends a new open request owned by an existing member.
func (l *MemoryLedger) CreateRequest(ctx context.Context, networkID, memberID uuid.UUID, amount domain.Amount, reason string) (*domain.Request, error) {
	st, err := l.state(networkID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if findMember(st.network, memberID) == nil {
		return nil, ErrMemberNotFound
	}

	request := &domain.Request{
		ID:              uuid.New(),
		MemberID:        memberID,
		RequestedAmount: amount,
		Reason:          reason,
		Status:          domain.RequestStatusOpen,
		CreatedAt:       time.Now().UTC(),
	}
	st.network.Requests = append(st.network.Requests, request)

	copied := *request
	return &copied, nil
}

// GetRequest returns a copy of one request.
func (l *MemoryLedger) GetRequest(ctx context.Context, networkID, requestID uuid.UUID) (*domain.Request, error) {
	st, err := l.state(networkID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	request := findRequest(st.network, requestID)
	if request == nil {
		return nil, ErrRequestNotFound
	}
	return snapshotRequest(request), nil
}

// ListRequests returns copies of every request in creation order.
func (l *MemoryLedger) ListRequests(ctx context.Context, networkID uuid.UUID) ([]*domain.Request, error) {
	st, err := l.state(networkID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	requests := make([]*domain.Request, 0, len(st.network.Requests))
	for _, r := range st.network.Requests {
		requests = append(requests, snapshotRequest(r))
	}
	return requests, nil
}

// ListOpenRequests returns copies of the currently-open requests in creation
// order, the claim set redistribution operates on.
func (l *MemoryLedger) ListOpenRequests(ctx context.Context, networkID uuid.UUID) ([]*domain.Request, error) {
	st, err := l.state(networkID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	open := make([]*domain.Request, 0, len(st.network.Requests))
	for _, r := range st.network.Requests {
		if r.Status == domain.RequestStatusOpen {
			open = append(open, snapshotRequest(r))
		}
	}
	return open, nil
}

// CreateOffer appends a new open offer owned by an existing member.
func (l *MemoryLedger) CreateOffer(ctx context.Context, networkID, memberID uuid.UUID, description string) (*domain.Offer, error) {
	st, err := l.state(networkID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if findMember(st.network, memberID) == nil {
		return nil, ErrMemberNotFound
	}

	offer := &domain.Offer{
		ID:          uuid.New(),
		MemberID:    memberID,
		Description: description,
		Status:      domain.OfferStatusOpen,
		CreatedAt:   time.Now().UTC(),
	}
	st.network.Offers = append(st.network.Offers, offer)

	copied := *offer
	return &copied, nil
}

// CloseOffer transitions an open offer to closed.
func (l *MemoryLedger) CloseOffer(ctx context.Context, networkID, offerID uuid.UUID) (*domain.Offer, error) {
	st, err := l.state(networkID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	for _, o := range st.network.Offers {
		if o.ID == offerID {
			if o.Status == domain.OfferStatusClosed {
				return nil, ErrOfferClosed
			}
			o.Status = domain.OfferStatusClosed
			copied := *o
			return &copied, nil
		}
	}
	return nil, ErrOfferNotFound
}

// RecordContribution credits a member's contributions and the pool balance in
// one atomic step. The funds are already confirmed to exist; no settlement is
// performed here.
func (l *MemoryLedger) RecordContribution(ctx context.Context, networkID, memberID uuid.UUID, amount domain.Amount) (domain.Amount, error) {
	st, err := l.state(networkID)
	if err != nil {
		return domain.Amount{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	member := findMember(st.network, memberID)
	if member == nil {
		return domain.Amount{}, ErrMemberNotFound
	}

	member.Contributions = member.Contributions.Add(amount)
	st.network.PoolBalance = st.network.PoolBalance.Add(amount)
	return st.network.PoolBalance, nil
}

// DebitPool decreases the pool balance, failing with ErrPoolUnderflow if the
// result would be negative. Callers invoke this only after a settlement leg
// has already succeeded, never before.
func (l *MemoryLedger) DebitPool(ctx context.Context, networkID uuid.UUID, amount domain.Amount) error {
	st, err := l.state(networkID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	debited, err := st.network.PoolBalance.Sub(amount)
	if err != nil {
		return fmt.Errorf("%w: debit %s from %s", ErrPoolUnderflow, amount, st.network.PoolBalance)
	}
	st.network.PoolBalance = debited
	return nil
}

// CommitRequestOutcome applies a completed settlement to the ledger: it sets
// the request's terminal status and fulfilled amount, credits the owning
// member's received total with the actually-settled amount, and records the
// settlement reference. A reference that was already committed is rejected so
// the member is never double-credited.
func (l *MemoryLedger) CommitRequestOutcome(ctx context.Context, networkID, requestID uuid.UUID, allocated domain.Amount, isFull bool, settlementRef string) error {
	st, err := l.state(networkID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if _, seen := st.settledRefs[settlementRef]; seen {
		return ErrDuplicateSettlementRef
	}

	request := findRequest(st.network, requestID)
	if request == nil {
		return ErrRequestNotFound
	}
	if request.Status != domain.RequestStatusOpen {
		return ErrRequestNotOpen
	}

	member := findMember(st.network, request.MemberID)
	if member == nil {
		return ErrMemberNotFound
	}

	now := time.Now().UTC()
	if isFull {
		request.Status = domain.RequestStatusFulfilled
	} else {
		request.Status = domain.RequestStatusPartial
	}
	fulfilled := allocated
	request.FulfilledAmount = &fulfilled
	ref := settlementRef
	request.SettlementRef = &ref
	request.FulfilledAt = &now

	member.Received = member.Received.Add(allocated)
	st.settledRefs[settlementRef] = struct{}{}
	return nil
}

// LockNetwork acquires the network's settlement lock without blocking.
func (l *MemoryLedger) LockNetwork(networkID uuid.UUID) error {
	st, err := l.state(networkID)
	if err != nil {
		return err
	}
	if !st.settle.TryLock() {
		return ErrNetworkBusy
	}
	return nil
}

// UnlockNetwork releases the network's settlement lock.
func (l *MemoryLedger) UnlockNetwork(networkID uuid.UUID) {
	st, err := l.state(networkID)
	if err != nil {
		return
	}
	st.settle.Unlock()
}

func findMember(network *domain.Network, memberID uuid.UUID) *domain.Member {
	for _, m := range network.Members {
		if m.ID == memberID {
			return m
		}
	}
	return nil
}

func findRequest(network *domain.Network, requestID uuid.UUID) *domain.Request {
	for _, r := range network.Requests {
		if r.ID == requestID {
			return r
		}
	}
	return nil
}

func snapshotRequest(request *domain.Request) *domain.Request {
	copied := *request
	if request.FulfilledAmount != nil {
		amount := *request.FulfilledAmount
		copied.FulfilledAmount = &amount
	}
	if request.SettlementRef != nil {
		ref := *request.SettlementRef
		copied.SettlementRef = &ref
	}
	if request.FulfilledAt != nil {
		at := *request.FulfilledAt
		copied.FulfilledAt = &at
	}
	return &copied
}

func snapshotNetwork(network *domain.Network) *domain.Network {
	copied := *network
	copied.Members = make([]*domain.Member, 0, len(network.Members))
	for _, m := range network.Members {
		member := *m
		copied.Members = append(copied.Members, &member)
	}
	copied.Requests = make([]*domain.Request, 0, len(network.Requests))
	for _, r := range network.Requests {
		copied.Requests = append(copied.Requests, snapshotRequest(r))
	}
	copied.Offers = make([]*domain.Offer, 0, len(network.Offers))
	for _, o := range network.Offers {
		offer := *o
		copied.Offers = append(copied.Offers, &offer)
	}
	return &copied
}
