/**
 * @description
 * This file contains the HTTP handlers for the pool-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the
 * appropriate methods on the application service, and writing the HTTP
 * response. They act as the bridge between the web layer and the business
 * logic layer; monetary amounts cross this boundary only as decimal strings.
 *
 * @dependencies
 * - encoding/json, errors, log, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5, github.com/google/uuid: Routing and identifiers.
 * - internal/app, internal/domain, internal/store: Service logic, models, and
 *   the error taxonomy.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/aidring/pool-service/internal/app"
	"github.com/aidring/pool-service/internal/domain"
	"github.com/aidring/pool-service/internal/store"
)

// PoolHandlers holds the application service that handlers will use.
type PoolHandlers struct {
	service *app.Service
}

// NewPoolHandlers creates a new instance of PoolHandlers.
func NewPoolHandlers(service *app.Service) *PoolHandlers {
	return &PoolHandlers{service: service}
}

type createNetworkRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type addMemberRequest struct {
	Address     string `json:"address"`
	DisplayName string `json:"display_name"`
}

type contributionRequest struct {
	MemberID uuid.UUID `json:"member_id"`
	Amount   string    `json:"amount"`
}

type contributionResponse struct {
	NetworkID  uuid.UUID `json:"network_id"`
	MemberID   uuid.UUID `json:"member_id"`
	Amount     string    `json:"amount"`
	NewBalance string    `json:"new_balance"`
}

type createRequestRequest struct {
	MemberID uuid.UUID `json:"member_id"`
	Amount   string    `json:"amount"`
	Reason   string    `json:"reason"`
}

type createOfferRequest struct {
	MemberID    uuid.UUID `json:"member_id"`
	Description string    `json:"description"`
}

// CreateNetworkHandler handles network creation.
func (h *PoolHandlers) CreateNetworkHandler(w http.ResponseWriter, r *http.Request) {
	var req createNetworkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	network, err := h.service.CreateNetwork(r.Context(), req.Name, req.Description)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, network)
}

// GetNetworkHandler returns one network aggregate.
func (h *PoolHandlers) GetNetworkHandler(w http.ResponseWriter, r *http.Request) {
	networkID, ok := h.pathUUID(w, r, "networkID")
	if !ok {
		return
	}

	network, err := h.service.GetNetwork(r.Context(), networkID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, network)
}

// ListNetworksHandler returns every known network.
func (h *PoolHandlers) ListNetworksHandler(w http.ResponseWriter, r *http.Request) {
	networks, err := h.service.ListNetworks(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, networks)
}

// AddMemberHandler registers a member in a network.
func (h *PoolHandlers) AddMemberHandler(w http.ResponseWriter, r *http.Request) {
	networkID, ok := h.pathUUID(w, r, "networkID")
	if !ok {
		return
	}

	var req addMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	member, err := h.service.AddMember(r.Context(), networkID, req.Address, req.DisplayName)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, member)
}

// GetOwnMemberHandler resolves the authenticated caller's chain address to
// their member record in the network.
func (h *PoolHandlers) GetOwnMemberHandler(w http.ResponseWriter, r *http.Request) {
	networkID, ok := h.pathUUID(w, r, "networkID")
	if !ok {
		return
	}
	address, ok := GetCallerAddress(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Caller address not established")
		return
	}

	member, err := h.service.FindMemberByAddress(r.Context(), networkID, address)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, member)
}

// RecordContributionHandler credits a member's contribution to the pool.
func (h *PoolHandlers) RecordContributionHandler(w http.ResponseWriter, r *http.Request) {
	networkID, ok := h.pathUUID(w, r, "networkID")
	if !ok {
		return
	}

	var req contributionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid contribution amount")
		return
	}

	newBalance, err := h.service.RecordContribution(r.Context(), networkID, req.MemberID, amount)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, contributionResponse{
		NetworkID:  networkID,
		MemberID:   req.MemberID,
		Amount:     amount.String(),
		NewBalance: newBalance.String(),
	})
}

// CreateRequestHandler opens a need-based request.
func (h *PoolHandlers) CreateRequestHandler(w http.ResponseWriter, r *http.Request) {
	networkID, ok := h.pathUUID(w, r, "networkID")
	if !ok {
		return
	}

	var req createRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid requested amount")
		return
	}

	request, err := h.service.CreateRequest(r.Context(), networkID, req.MemberID, amount, req.Reason)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, request)
}

// GetRequestHandler returns one request.
func (h *PoolHandlers) GetRequestHandler(w http.ResponseWriter, r *http.Request) {
	networkID, ok := h.pathUUID(w, r, "networkID")
	if !ok {
		return
	}
	requestID, ok := h.pathUUID(w, r, "requestID")
	if !ok {
		return
	}

	request, err := h.service.GetRequest(r.Context(), networkID, requestID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, request)
}

// ListRequestsHandler lists a network's requests in creation order.
func (h *PoolHandlers) ListRequestsHandler(w http.ResponseWriter, r *http.Request) {
	networkID, ok := h.pathUUID(w, r, "networkID")
	if !ok {
		return
	}

	requests, err := h.service.ListRequests(r.Context(), networkID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, requests)
}

// FulfillRequestHandler runs the single-fulfillment policy for one request.
// A settlement failure is reported with the claim's distinct terminal outcome;
// it is never shaped like success.
func (h *PoolHandlers) FulfillRequestHandler(w http.ResponseWriter, r *http.Request) {
	networkID, ok := h.pathUUID(w, r, "networkID")
	if !ok {
		return
	}
	requestID, ok := h.pathUUID(w, r, "requestID")
	if !ok {
		return
	}

	result, err := h.service.FulfillSingle(r.Context(), networkID, requestID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	if result.Claim.Outcome != domain.ClaimCommitted {
		log.Printf("level=error component=api msg=\"single fulfillment did not commit\" network_id=%s request_id=%s outcome=%s",
			networkID, requestID, result.Claim.Outcome)
		h.writeJSON(w, http.StatusBadGateway, result)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// RedistributeHandler runs the proportional policy over all open requests.
// The report carries one explicit outcome per claim, including any financial
// discrepancies.
func (h *PoolHandlers) RedistributeHandler(w http.ResponseWriter, r *http.Request) {
	networkID, ok := h.pathUUID(w, r, "networkID")
	if !ok {
		return
	}

	report, err := h.service.Redistribute(r.Context(), networkID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

// CreateOfferHandler opens a non-monetary offer.
func (h *PoolHandlers) CreateOfferHandler(w http.ResponseWriter, r *http.Request) {
	networkID, ok := h.pathUUID(w, r, "networkID")
	if !ok {
		return
	}

	var req createOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	offer, err := h.service.CreateOffer(r.Context(), networkID, req.MemberID, req.Description)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, offer)
}

// CloseOfferHandler closes an open offer.
func (h *PoolHandlers) CloseOfferHandler(w http.ResponseWriter, r *http.Request) {
	networkID, ok := h.pathUUID(w, r, "networkID")
	if !ok {
		return
	}
	offerID, ok := h.pathUUID(w, r, "offerID")
	if !ok {
		return
	}

	offer, err := h.service.CloseOffer(r.Context(), networkID, offerID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, offer)
}

// pathUUID parses a UUID path parameter, writing a 400 on failure.
func (h *PoolHandlers) pathUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	raw := chi.URLParam(r, param)
	id, err := uuid.Parse(raw)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid "+param)
		return uuid.Nil, false
	}
	return id, true
}

// writeServiceError translates the service error taxonomy into HTTP responses.
func (h *PoolHandlers) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrValidation), errors.Is(err, domain.ErrInvalidAmount):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNetworkNotFound),
		errors.Is(err, store.ErrMemberNotFound),
		errors.Is(err, store.ErrRequestNotFound),
		errors.Is(err, store.ErrOfferNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrDuplicateMemberAddress),
		errors.Is(err, store.ErrRequestNotOpen),
		errors.Is(err, store.ErrOfferClosed):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrNetworkBusy):
		w.Header().Set("Retry-After", "1")
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrRateLimited):
		h.writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, app.ErrInsufficientPool), errors.Is(err, app.ErrEmptyPool):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		log.Printf("level=error component=api msg=\"unhandled service error\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// writeJSON is a helper for writing JSON responses.
func (h *PoolHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("level=error component=api msg=\"response encode failed\" err=%v", err)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *PoolHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
