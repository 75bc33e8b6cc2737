package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/aidring/pool-service/internal/app"
	"github.com/aidring/pool-service/internal/domain"
	"github.com/aidring/pool-service/internal/store"
)

// deadlineRecordingSettler confirms every transfer immediately and records how
// much time each transfer context had left.
type deadlineRecordingSettler struct {
	mu        sync.Mutex
	remaining []time.Duration
	refSeq    int
}

func (s *deadlineRecordingSettler) Transfer(ctx context.Context, to string, amount domain.Amount) (*app.SettlementReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		return nil, fmt.Errorf("transfer context carries no deadline")
	}
	s.remaining = append(s.remaining, time.Until(deadline))

	s.refSeq++
	return &app.SettlementReceipt{Ref: fmt.Sprintf("tx-%04d", s.refSeq), Amount: amount}, nil
}

func (s *deadlineRecordingSettler) minRemaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	min := time.Duration(0)
	for i, r := range s.remaining {
		if i == 0 || r < min {
			min = r
		}
	}
	return min
}

func TestFulfillRouteUsesClaimBudgetNotRouteTimeout(t *testing.T) {
	const caller = "0x00000000000000000000000000000000000000a1"
	const treasury = "0x00000000000000000000000000000000000000fe"

	ledger := store.NewMemoryLedger()
	settler := &deadlineRecordingSettler{}
	service := app.NewService(ledger, settler, nil, "test.events", treasury, 10*time.Minute, 20*time.Minute)
	router := PoolRoutes(NewPoolHandlers(service), testSecret, staticAuthorizer{caller: true})

	ctx := context.Background()
	network, err := service.CreateNetwork(ctx, "neighborhood", "")
	if err != nil {
		t.Fatalf("create network: %v", err)
	}
	member, err := service.AddMember(ctx, network.ID, caller, "alice")
	if err != nil {
		t.Fatalf("add member: %v", err)
	}
	if _, err := service.RecordContribution(ctx, network.ID, member.ID, domain.MustParseAmount("1")); err != nil {
		t.Fatalf("contribute: %v", err)
	}
	request, err := service.CreateRequest(ctx, network.ID, member.ID, domain.MustParseAmount("0.5"), "need")
	if err != nil {
		t.Fatalf("create request: %v", err)
	}

	path := fmt.Sprintf("/pools/networks/%s/requests/%s/fulfill", network.ID, request.ID)
	req := httptest.NewRequest("POST", path, nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, caller, testSecret))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if got := settler.minRemaining(); got <= time.Minute {
		t.Fatalf("settlement legs must run under the configured claim budget, not a route timeout; had %s left", got)
	}
}
