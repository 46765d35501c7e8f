package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/swapbid/backend/internal/breaker"
	"github.com/swapbid/backend/internal/middleware"
	"github.com/swapbid/backend/internal/models"
)

// Resolver is the part of the resolution service the HTTP surface calls.
type Resolver interface {
	SelectWinner(ctx context.Context, auctionID, proposalID, requestorID string) (*models.ResolutionResult, error)
	RejectProposals(ctx context.Context, auctionID string, proposalIDs []string, requestorID, reason string) (*models.RejectionResult, error)
	TriggerAutoSelection(ctx context.Context, auctionID, requestorID string) (*models.ResolutionResult, error)
}

type QueueStatusReader interface {
	GetQueueStatus(ctx context.Context) (*models.QueueStatus, error)
}

type BreakerSnapshots interface {
	Snapshots() []breaker.Snapshot
}

type AuctionHandler struct {
	resolver  Resolver
	queue     QueueStatusReader
	breakers  BreakerSnapshots
	validator *ValidationHelper
}

func NewAuctionHandler(resolver Resolver, queue QueueStatusReader, breakers BreakerSnapshots) *AuctionHandler {
	return &AuctionHandler{
		resolver:  resolver,
		queue:     queue,
		breakers:  breakers,
		validator: NewValidationHelper(),
	}
}

// Routes mounts the auction endpoints. They expect middleware.Auth upstream.
func (h *AuctionHandler) Routes(r chi.Router) {
	r.Route("/auctions/{auctionId}", func(r chi.Router) {
		r.Post("/winner", h.SelectWinner)
		r.Post("/rejections", h.RejectProposals)
		r.Post("/auto-select", h.AutoSelect)
	})
	r.Get("/settlement/health", h.SettlementHealth)
}

type selectWinnerRequest struct {
	ProposalID string `json:"proposalId" validate:"required"`
}

// SelectWinner settles the chosen proposal as the auction's winner
// @Summary Select an auction winner
// @Description Settle a pending proposal as the winner of an ended auction. Only the auction owner may call it.
// @Tags auctions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param auctionId path string true "Auction ID"
// @Param request body selectWinnerRequest true "Winning proposal"
// @Success 200 {object} models.ResolutionResult
// @Failure 400 {object} ErrorResponse "Invalid request or auction not resolvable"
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Failure 403 {object} ErrorResponse "Not the auction owner"
// @Failure 404 {object} ErrorResponse "Auction not found"
// @Failure 409 {object} ErrorResponse "Auction already resolved or being resolved"
// @Failure 502 {object} ErrorResponse "Ledger unavailable, transaction queued"
// @Failure 503 {object} ErrorResponse "Circuit open, see Retry-After"
// @Router /auctions/{auctionId}/winner [post]
func (h *AuctionHandler) SelectWinner(w http.ResponseWriter, r *http.Request) {
	requestorID, ok := middleware.RequestorID(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req selectWinnerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	result, err := h.resolver.SelectWinner(r.Context(), chi.URLParam(r, "auctionId"), req.ProposalID, requestorID)
	if err != nil {
		SendAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type rejectProposalsRequest struct {
	ProposalIDs []string `json:"proposalIds" validate:"required,min=1,max=100,dive,required"`
	Reason      string   `json:"reason" validate:"max=500"`
}

// RejectProposals rejects pending proposals of an auction
// @Summary Reject proposals
// @Description Reject pending proposals and release their escrow. Proposals that are no longer pending are skipped.
// @Tags auctions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param auctionId path string true "Auction ID"
// @Param request body rejectProposalsRequest true "Proposals to reject"
// @Success 200 {object} models.RejectionResult "Rejected and confirmed by the ledger"
// @Success 202 {object} models.RejectionResult "Rejected, ledger confirmation queued"
// @Failure 400 {object} ErrorResponse "Invalid request"
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Failure 403 {object} ErrorResponse "Not the auction owner"
// @Failure 404 {object} ErrorResponse "Auction not found"
// @Failure 409 {object} ErrorResponse "Auction is being resolved"
// @Router /auctions/{auctionId}/rejections [post]
func (h *AuctionHandler) RejectProposals(w http.ResponseWriter, r *http.Request) {
	requestorID, ok := middleware.RequestorID(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req rejectProposalsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	result, err := h.resolver.RejectProposals(r.Context(), chi.URLParam(r, "auctionId"), req.ProposalIDs, requestorID, req.Reason)
	if err != nil {
		SendAppError(w, err)
		return
	}

	status := http.StatusOK
	if result.Queued {
		// rejected locally, ledger confirmation still pending
		status = http.StatusAccepted
	}
	writeJSON(w, status, result)
}

// AutoSelect runs auto-selection for one auction now
// @Summary Auto-select a winner
// @Description Pick and settle the best eligible proposal without waiting for the sweeper.
// @Tags auctions
// @Produce json
// @Security BearerAuth
// @Param auctionId path string true "Auction ID"
// @Success 200 {object} models.ResolutionResult
// @Failure 400 {object} ErrorResponse "No proposal could be settled"
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Failure 403 {object} ErrorResponse "Not the auction owner"
// @Failure 409 {object} ErrorResponse "Auction already resolved"
// @Failure 503 {object} ErrorResponse "Circuit open, see Retry-After"
// @Router /auctions/{auctionId}/auto-select [post]
func (h *AuctionHandler) AutoSelect(w http.ResponseWriter, r *http.Request) {
	requestorID, ok := middleware.RequestorID(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	result, err := h.resolver.TriggerAutoSelection(r.Context(), chi.URLParam(r, "auctionId"), requestorID)
	if err != nil {
		SendAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type settlementHealth struct {
	Status   string              `json:"status"`
	Queue    *models.QueueStatus `json:"queue"`
	Breakers []breaker.Snapshot  `json:"breakers"`
}

// SettlementHealth reports degraded while any breaker is not closed.
// @Summary Settlement health
// @Description Recovery queue depth and circuit breaker states
// @Tags settlement
// @Produce json
// @Security BearerAuth
// @Success 200 {object} settlementHealth
// @Failure 500 {object} ErrorResponse
// @Router /settlement/health [get]
func (h *AuctionHandler) SettlementHealth(w http.ResponseWriter, r *http.Request) {
	queue, err := h.queue.GetQueueStatus(r.Context())
	if err != nil {
		SendAppError(w, err)
		return
	}

	resp := settlementHealth{Status: "healthy", Queue: queue, Breakers: h.breakers.Snapshots()}
	for _, s := range resp.Breakers {
		if s.State != breaker.StateClosed {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
