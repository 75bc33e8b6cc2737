package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/aidring/pool-service/internal/domain"
	"github.com/aidring/pool-service/internal/store"
)

const testTreasury = "0x00000000000000000000000000000000000000fe"

// fakeSettler is a scripted settlement executor. failOn maps a destination
// address to the error its transfer should fail with; everything else confirms
// immediately with a fresh reference.
type fakeSettler struct {
	mu        sync.Mutex
	calls     []fakeTransfer
	failOn    map[string]error
	refSeq    int
	lastRefTo map[string]string
}

type fakeTransfer struct {
	to     string
	amount domain.Amount
}

func newFakeSettler() *fakeSettler {
	return &fakeSettler{failOn: make(map[string]error), lastRefTo: make(map[string]string)}
}

func (f *fakeSettler) Transfer(ctx context.Context, to string, amount domain.Amount) (*SettlementReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, fakeTransfer{to: to, amount: amount})
	if err, ok := f.failOn[to]; ok {
		return nil, &SettlementError{Err: err}
	}
	f.refSeq++
	ref := fmt.Sprintf("tx-%04d", f.refSeq)
	f.lastRefTo[to] = ref
	return &SettlementReceipt{Ref: ref, Amount: amount}, nil
}

func (f *fakeSettler) transferCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeSettler) transfersTo(address string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, call := range f.calls {
		if call.to == address {
			count++
		}
	}
	return count
}

// capturingPublisher records published events for assertions.
type capturingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

type publishedEvent struct {
	routingKey string
	body       interface{}
}

func (p *capturingPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{routingKey: routingKey, body: body})
	return nil
}

func (p *capturingPublisher) Close() {}

func (p *capturingPublisher) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, 0, len(p.events))
	for _, e := range p.events {
		keys = append(keys, e.routingKey)
	}
	return keys
}

type serviceFixture struct {
	service   *Service
	ledger    *store.MemoryLedger
	settler   *fakeSettler
	publisher *capturingPublisher
	network   *domain.Network
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	ledger := store.NewMemoryLedger()
	settler := newFakeSettler()
	publisher := &capturingPublisher{}
	service := NewService(ledger, settler, publisher, "test.events", testTreasury, time.Minute, 5*time.Minute)

	network, err := service.CreateNetwork(context.Background(), "neighborhood", "")
	if err != nil {
		t.Fatalf("create network: %v", err)
	}
	return &serviceFixture{service: service, ledger: ledger, settler: settler, publisher: publisher, network: network}
}

func (fx *serviceFixture) addMember(t *testing.T, address string) *domain.Member {
	t.Helper()
	member, err := fx.service.AddMember(context.Background(), fx.network.ID, address, "member "+address[:6])
	if err != nil {
		t.Fatalf("add member: %v", err)
	}
	return member
}

func (fx *serviceFixture) contribute(t *testing.T, memberID uuid.UUID, amount string) {
	t.Helper()
	if _, err := fx.service.RecordContribution(context.Background(), fx.network.ID, memberID, domain.MustParseAmount(amount)); err != nil {
		t.Fatalf("record contribution: %v", err)
	}
}

func (fx *serviceFixture) openRequest(t *testing.T, memberID uuid.UUID, amount string) *domain.Request {
	t.Helper()
	request, err := fx.service.CreateRequest(context.Background(), fx.network.ID, memberID, domain.MustParseAmount(amount), "need")
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	return request
}

func TestFulfillSingleCommitsBothLegs(t *testing.T) {
	fx := newServiceFixture(t)
	alice := fx.addMember(t, "0x00000000000000000000000000000000000000a1")
	bob := fx.addMember(t, "0x00000000000000000000000000000000000000b2")
	fx.contribute(t, alice.ID, "1")
	request := fx.openRequest(t, bob.ID, "0.5")

	result, err := fx.service.FulfillSingle(context.Background(), fx.network.ID, request.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Claim.Outcome != domain.ClaimCommitted {
		t.Fatalf("expected committed, got %s (%s)", result.Claim.Outcome, result.Claim.FailureDetail)
	}
	if result.Claim.Fee.String() != "0.025" {
		t.Fatalf("expected fee 0.025, got %s", result.Claim.Fee)
	}
	if result.Claim.NetPayout.String() != "0.475" {
		t.Fatalf("expected net payout 0.475, got %s", result.Claim.NetPayout)
	}
	if result.PoolBalance.String() != "0.5" {
		t.Fatalf("expected pool balance 0.5, got %s", result.PoolBalance)
	}

	// The ledger credit is the gross allocated amount, covering both legs.
	fresh, err := fx.ledger.GetMember(context.Background(), fx.network.ID, bob.ID)
	if err != nil {
		t.Fatalf("get member: %v", err)
	}
	if fresh.Received.String() != "0.5" {
		t.Fatalf("expected received 0.5, got %s", fresh.Received)
	}

	committed, err := fx.ledger.GetRequest(context.Background(), fx.network.ID, request.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if committed.Status != domain.RequestStatusFulfilled {
		t.Fatalf("expected fulfilled status, got %s", committed.Status)
	}
	if committed.SettlementRef == nil || *committed.SettlementRef == "" {
		t.Fatal("expected a settlement reference on the committed request")
	}

	// Fee leg first (treasury), then the payout leg.
	if len(fx.settler.calls) != 2 {
		t.Fatalf("expected 2 transfers, got %d", len(fx.settler.calls))
	}
	if fx.settler.calls[0].to != testTreasury {
		t.Fatalf("expected fee leg to treasury first, got %s", fx.settler.calls[0].to)
	}
	if fx.settler.calls[1].to != bob.Address {
		t.Fatalf("expected payout leg to recipient, got %s", fx.settler.calls[1].to)
	}
}

func TestFulfillSingleInsufficientPool(t *testing.T) {
	fx := newServiceFixture(t)
	alice := fx.addMember(t, "0x00000000000000000000000000000000000000a1")
	fx.contribute(t, alice.ID, "0.4")
	request := fx.openRequest(t, alice.ID, "0.5")

	_, err := fx.service.FulfillSingle(context.Background(), fx.network.ID, request.ID)
	if !errors.Is(err, ErrInsufficientPool) {
		t.Fatalf("expected ErrInsufficientPool, got %v", err)
	}
	if fx.settler.transferCount() != 0 {
		t.Fatal("no transfer may be attempted for a rejected allocation")
	}

	fresh, _ := fx.ledger.GetRequest(context.Background(), fx.network.ID, request.ID)
	if fresh.Status != domain.RequestStatusOpen {
		t.Fatalf("rejected request must stay open, got %s", fresh.Status)
	}
}

func TestFulfillSingleFeeLegFailureLeavesLedgerUntouched(t *testing.T) {
	fx := newServiceFixture(t)
	alice := fx.addMember(t, "0x00000000000000000000000000000000000000a1")
	fx.contribute(t, alice.ID, "1")
	request := fx.openRequest(t, alice.ID, "0.5")

	fx.settler.failOn[testTreasury] = errors.New("gateway unavailable")

	result, err := fx.service.FulfillSingle(context.Background(), fx.network.ID, request.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Claim.Outcome != domain.ClaimFailedBeforeDebit {
		t.Fatalf("expected failed_before_debit, got %s", result.Claim.Outcome)
	}

	network, _ := fx.ledger.GetNetwork(context.Background(), fx.network.ID)
	if network.PoolBalance.String() != "1" {
		t.Fatalf("pool must be untouched after a fee leg failure, got %s", network.PoolBalance)
	}
	fresh, _ := fx.ledger.GetRequest(context.Background(), fx.network.ID, request.ID)
	if fresh.Status != domain.RequestStatusOpen {
		t.Fatalf("request must stay open, got %s", fresh.Status)
	}
}

func TestFulfillSinglePayoutFailureIsDiscrepancy(t *testing.T) {
	fx := newServiceFixture(t)
	alice := fx.addMember(t, "0x00000000000000000000000000000000000000a1")
	bob := fx.addMember(t, "0x00000000000000000000000000000000000000b2")
	fx.contribute(t, alice.ID, "1")
	request := fx.openRequest(t, bob.ID, "0.5")

	fx.settler.failOn[bob.Address] = errors.New("recipient transfer reverted")

	result, err := fx.service.FulfillSingle(context.Background(), fx.network.ID, request.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Claim.Outcome != domain.ClaimFailedAfterFee {
		t.Fatalf("expected failed_after_fee, got %s", result.Claim.Outcome)
	}
	if !result.Claim.Outcome.Discrepancy() {
		t.Fatal("payout failure after a confirmed fee leg is a discrepancy")
	}

	// The fee left the treasury accounting but the ledger must not move.
	network, _ := fx.ledger.GetNetwork(context.Background(), fx.network.ID)
	if network.PoolBalance.String() != "1" {
		t.Fatalf("pool must be untouched, got %s", network.PoolBalance)
	}
	fresh, _ := fx.ledger.GetMember(context.Background(), fx.network.ID, bob.ID)
	if !fresh.Received.IsZero() {
		t.Fatalf("recipient must not be credited, got %s", fresh.Received)
	}

	// The discrepancy must be published, never silently absorbed.
	found := false
	for _, key := range fx.publisher.keys() {
		if key == "pool.settlement.discrepancy" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a settlement discrepancy event")
	}
}

func TestFulfillSingleZeroFeePayoutFailureIsNotDiscrepancy(t *testing.T) {
	fx := newServiceFixture(t)
	alice := fx.addMember(t, "0x00000000000000000000000000000000000000a1")
	bob := fx.addMember(t, "0x00000000000000000000000000000000000000b2")
	fx.contribute(t, alice.ID, "1")

	// 19 minor units: the 5% fee floors to zero, so the fee leg is skipped.
	request := fx.openRequest(t, bob.ID, "0.000000000000000019")
	fx.settler.failOn[bob.Address] = errors.New("recipient transfer reverted")

	result, err := fx.service.FulfillSingle(context.Background(), fx.network.ID, request.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if fx.settler.transfersTo(testTreasury) != 0 {
		t.Fatal("a zero fee must not produce a treasury transfer")
	}
	if !result.Claim.Fee.IsZero() {
		t.Fatalf("expected zero fee, got %s", result.Claim.Fee)
	}

	// Nothing reached the treasury, so this is not a financial discrepancy.
	if result.Claim.Outcome != domain.ClaimFailedBeforeDebit {
		t.Fatalf("expected failed_before_debit, got %s", result.Claim.Outcome)
	}
	if result.Claim.Outcome.Discrepancy() {
		t.Fatal("a failure with no confirmed fee leg must not count as a discrepancy")
	}
	for _, key := range fx.publisher.keys() {
		if key == "pool.settlement.discrepancy" {
			t.Fatal("no discrepancy event may be published when no money moved")
		}
	}

	network, _ := fx.ledger.GetNetwork(context.Background(), fx.network.ID)
	if network.PoolBalance.String() != "1" {
		t.Fatalf("pool must be untouched, got %s", network.PoolBalance)
	}
}

func TestFulfillSingleRejectsNonOpenRequest(t *testing.T) {
	fx := newServiceFixture(t)
	alice := fx.addMember(t, "0x00000000000000000000000000000000000000a1")
	fx.contribute(t, alice.ID, "2")
	request := fx.openRequest(t, alice.ID, "0.5")

	if _, err := fx.service.FulfillSingle(context.Background(), fx.network.ID, request.ID); err != nil {
		t.Fatalf("first fulfillment: %v", err)
	}
	_, err := fx.service.FulfillSingle(context.Background(), fx.network.ID, request.ID)
	if !errors.Is(err, store.ErrRequestNotOpen) {
		t.Fatalf("expected ErrRequestNotOpen, got %v", err)
	}
}

func TestRedistributeProportionalScarcePool(t *testing.T) {
	fx := newServiceFixture(t)
	alice := fx.addMember(t, "0x00000000000000000000000000000000000000a1")
	bob := fx.addMember(t, "0x00000000000000000000000000000000000000b2")
	carol := fx.addMember(t, "0x00000000000000000000000000000000000000c3")
	fx.contribute(t, alice.ID, "0.5")

	// Total demand 2.0 against a pool of 0.5: everyone gets a quarter share.
	r1 := fx.openRequest(t, bob.ID, "1.2")
	r2 := fx.openRequest(t, carol.ID, "0.8")

	report, err := fx.service.Redistribute(context.Background(), fx.network.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.NoOp {
		t.Fatal("expected claims, got no-op")
	}
	if report.Ratio != "0.25" {
		t.Fatalf("expected ratio 0.25, got %s", report.Ratio)
	}
	if len(report.Claims) != 2 {
		t.Fatalf("expected 2 claims, got %d", len(report.Claims))
	}
	for _, claim := range report.Claims {
		if claim.Outcome != domain.ClaimCommitted {
			t.Fatalf("claim %s: expected committed, got %s (%s)", claim.RequestID, claim.Outcome, claim.FailureDetail)
		}
	}
	if report.Committed.String() != "0.5" {
		t.Fatalf("expected committed total 0.5, got %s", report.Committed)
	}
	if report.PoolBalance.String() != "0" {
		t.Fatalf("expected drained pool, got %s", report.PoolBalance)
	}

	// Partially satisfied requests leave the open set.
	for _, id := range []uuid.UUID{r1.ID, r2.ID} {
		fresh, _ := fx.ledger.GetRequest(context.Background(), fx.network.ID, id)
		if fresh.Status != domain.RequestStatusPartial {
			t.Fatalf("request %s: expected partial, got %s", id, fresh.Status)
		}
	}
}

func TestRedistributeIsolatesClaimFailures(t *testing.T) {
	fx := newServiceFixture(t)
	alice := fx.addMember(t, "0x00000000000000000000000000000000000000a1")
	bob := fx.addMember(t, "0x00000000000000000000000000000000000000b2")
	carol := fx.addMember(t, "0x00000000000000000000000000000000000000c3")
	fx.contribute(t, alice.ID, "0.6")

	fx.openRequest(t, alice.ID, "1")
	failing := fx.openRequest(t, bob.ID, "1")
	fx.openRequest(t, carol.ID, "1")

	fx.settler.failOn[bob.Address] = errors.New("recipient transfer reverted")

	report, err := fx.service.Redistribute(context.Background(), fx.network.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(report.Claims) != 3 {
		t.Fatalf("expected 3 claims, got %d", len(report.Claims))
	}

	committed := 0
	for _, claim := range report.Claims {
		switch claim.RequestID {
		case failing.ID:
			if claim.Outcome != domain.ClaimFailedAfterFee {
				t.Fatalf("failing claim: expected failed_after_fee, got %s", claim.Outcome)
			}
		default:
			if claim.Outcome != domain.ClaimCommitted {
				t.Fatalf("sibling claim must commit despite the failure, got %s (%s)", claim.Outcome, claim.FailureDetail)
			}
			committed++
		}
	}
	if committed != 2 {
		t.Fatalf("expected 2 committed siblings, got %d", committed)
	}

	// Each share is 0.2; only the two committed shares leave the pool.
	if report.Committed.String() != "0.4" {
		t.Fatalf("expected committed total 0.4, got %s", report.Committed)
	}
	network, _ := fx.ledger.GetNetwork(context.Background(), fx.network.ID)
	if network.PoolBalance.String() != "0.2" {
		t.Fatalf("expected pool 0.2 after two committed shares, got %s", network.PoolBalance)
	}
}

func TestRedistributeNoOpenRequests(t *testing.T) {
	fx := newServiceFixture(t)
	alice := fx.addMember(t, "0x00000000000000000000000000000000000000a1")
	fx.contribute(t, alice.ID, "1")

	report, err := fx.service.Redistribute(context.Background(), fx.network.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !report.NoOp {
		t.Fatal("expected a no-op report")
	}
	if fx.settler.transferCount() != 0 {
		t.Fatal("a no-op redistribution must not touch the chain")
	}
}

func TestRedistributeEmptyPool(t *testing.T) {
	fx := newServiceFixture(t)
	alice := fx.addMember(t, "0x00000000000000000000000000000000000000a1")
	fx.openRequest(t, alice.ID, "1")

	_, err := fx.service.Redistribute(context.Background(), fx.network.ID)
	if !errors.Is(err, ErrEmptyPool) {
		t.Fatalf("expected ErrEmptyPool, got %v", err)
	}
}

func TestSettlementSerializedPerNetwork(t *testing.T) {
	fx := newServiceFixture(t)
	alice := fx.addMember(t, "0x00000000000000000000000000000000000000a1")
	fx.contribute(t, alice.ID, "1")
	request := fx.openRequest(t, alice.ID, "0.5")

	// Hold the settlement lock as a concurrent settlement would.
	if err := fx.ledger.LockNetwork(fx.network.ID); err != nil {
		t.Fatalf("lock network: %v", err)
	}

	_, err := fx.service.FulfillSingle(context.Background(), fx.network.ID, request.ID)
	if !errors.Is(err, store.ErrNetworkBusy) {
		t.Fatalf("expected ErrNetworkBusy, got %v", err)
	}

	// After release the same call succeeds.
	fx.ledger.UnlockNetwork(fx.network.ID)
	result, err := fx.service.FulfillSingle(context.Background(), fx.network.ID, request.ID)
	if err != nil {
		t.Fatalf("unexpected error after unlock: %v", err)
	}
	if result.Claim.Outcome != domain.ClaimCommitted {
		t.Fatalf("expected committed, got %s", result.Claim.Outcome)
	}
}

func TestValidationErrors(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	if _, err := fx.service.CreateNetwork(ctx, "  ", ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for blank name, got %v", err)
	}
	if _, err := fx.service.AddMember(ctx, fx.network.ID, "not-an-address", "x"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for malformed address, got %v", err)
	}
	if _, err := fx.service.AddMember(ctx, fx.network.ID, "0x00000000000000000000000000000000000000a1", " "); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for blank display name, got %v", err)
	}

	alice := fx.addMember(t, "0x00000000000000000000000000000000000000a1")
	if _, err := fx.service.CreateRequest(ctx, fx.network.ID, alice.ID, domain.ZeroAmount(), "r"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for zero request, got %v", err)
	}
	if _, err := fx.service.RecordContribution(ctx, fx.network.ID, alice.ID, domain.ZeroAmount()); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for zero contribution, got %v", err)
	}
	if _, err := fx.service.CreateOffer(ctx, fx.network.ID, alice.ID, " "); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for blank offer, got %v", err)
	}
}

func TestFindMemberByAddress(t *testing.T) {
	fx := newServiceFixture(t)
	alice := fx.addMember(t, "0x00000000000000000000000000000000000000Aa")

	found, err := fx.service.FindMemberByAddress(context.Background(), fx.network.ID, "0X00000000000000000000000000000000000000AA")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found.ID != alice.ID {
		t.Fatalf("expected member %s, got %s", alice.ID, found.ID)
	}

	if _, err := fx.service.FindMemberByAddress(context.Background(), fx.network.ID, "bogus"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for malformed address, got %v", err)
	}
	if _, err := fx.service.FindMemberByAddress(context.Background(), fx.network.ID, "0x00000000000000000000000000000000000000b2"); !errors.Is(err, store.ErrMemberNotFound) {
		t.Fatalf("expected ErrMemberNotFound, got %v", err)
	}
}

func TestContributionPublishesEvent(t *testing.T) {
	fx := newServiceFixture(t)
	alice := fx.addMember(t, "0x00000000000000000000000000000000000000a1")
	fx.contribute(t, alice.ID, "0.75")

	keys := fx.publisher.keys()
	if len(keys) != 1 || keys[0] != "pool.contribution.recorded" {
		t.Fatalf("expected one contribution event, got %v", keys)
	}

	fresh, _ := fx.ledger.GetMember(context.Background(), fx.network.ID, alice.ID)
	if fresh.Contributions.String() != "0.75" {
		t.Fatalf("expected contributions 0.75, got %s", fresh.Contributions)
	}
}
