/**
 * @description
 * This file defines the `Ledger` interface, the contract for all state access
 * required by the pool-service, together with the sentinel errors of the
 * ledger's error taxonomy. Defining an interface decouples the coordinator's
 * business logic from the concrete in-memory implementation and lets tests
 * substitute their own ledgers.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/google/uuid: Entity identifiers.
 * - internal/domain: The service's domain models.
 */

package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/aidring/pool-service/internal/domain"
)

var (
	// ErrNetworkNotFound indicates an unknown network id.
	ErrNetworkNotFound = errors.New("network not found")
	// ErrMemberNotFound indicates an unknown member within a network.
	ErrMemberNotFound = errors.New("member not found")
	// ErrRequestNotFound indicates an unknown request within a network.
	ErrRequestNotFound = errors.New("request not found")
	// ErrOfferNotFound indicates an unknown offer within a network.
	ErrOfferNotFound = errors.New("offer not found")
	// ErrRequestNotOpen indicates a commit against a request that has already
	// left the open state. Transitions are one-way; no request re-opens.
	ErrRequestNotOpen = errors.New("request is not open")
	// ErrOfferClosed indicates a close against an already-closed offer.
	ErrOfferClosed = errors.New("offer is already closed")
	// ErrDuplicateMemberAddress indicates the chain address is already held by
	// another member of the same network (addresses compare case-insensitively).
	ErrDuplicateMemberAddress = errors.New("member address already registered in network")
	// ErrDuplicateSettlementRef indicates a commit was attempted twice with the
	// same settlement reference; the second commit must not double-credit.
	ErrDuplicateSettlementRef = errors.New("settlement reference already committed")
	// ErrPoolUnderflow indicates a debit that would drive the pool negative.
	ErrPoolUnderflow = errors.New("pool balance underflow")
	// ErrNetworkBusy indicates another fulfillment or redistribution currently
	// holds the network; the caller may retry.
	ErrNetworkBusy = errors.New("network is busy with another settlement")
)

// Ledger defines the set of methods for reading and atomically mutating the
// authoritative pool state. Mutations are atomic per entity; the settlement
// lock serializes whole fulfillment flows against a network.
type Ledger interface {
	// Network aggregate lifecycle.
	CreateNetwork(ctx context.Context, name, description string) (*domain.Network, error)
	GetNetwork(ctx context.Context, networkID uuid.UUID) (*domain.Network, error)
	ListNetworks(ctx context.Context) ([]*domain.Network, error)

	// Membership.
	AddMember(ctx context.Context, networkID uuid.UUID, address, displayName string) (*domain.Member, error)
	FindMemberByAddress(ctx context.Context, networkID uuid.UUID, address string) (*domain.Member, error)
	GetMember(ctx context.Context, networkID, memberID uuid.UUID) (*domain.Member, error)

	// Requests and offers.
	CreateRequest(ctx context.Context, networkID, memberID uuid.UUID, amount domain.Amount, reason string) (*domain.Request, error)
	GetRequest(ctx context.Context, networkID, requestID uuid.UUID) (*domain.Request, error)
	ListRequests(ctx context.Context, networkID uuid.UUID) ([]*domain.Request, error)
	ListOpenRequests(ctx context.Context, networkID uuid.UUID) ([]*domain.Request, error)
	CreateOffer(ctx context.Context, networkID, memberID uuid.UUID, description string) (*domain.Offer, error)
	CloseOffer(ctx context.Context, networkID, offerID uuid.UUID) (*domain.Offer, error)

	// Monetary state transitions.
	RecordContribution(ctx context.Context, networkID, memberID uuid.UUID, amount domain.Amount) (domain.Amount, error)
	DebitPool(ctx context.Context, networkID uuid.UUID, amount domain.Amount) error
	CommitRequestOutcome(ctx context.Context, networkID, requestID uuid.UUID, allocated domain.Amount, isFull bool, settlementRef string) error

	// Settlement serialization. LockNetwork acquires the network's settlement
	// lock without blocking, failing with ErrNetworkBusy when another flow
	// holds it. Different networks are fully independent.
	LockNetwork(networkID uuid.UUID) error
	UnlockNetwork(networkID uuid.UUID)
}
