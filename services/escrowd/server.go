package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"batchpay/escrow"
)

const maxRequestBody = 1 << 20 // 1 MiB

// EscrowService abstracts the escrow client surface used by the HTTP
// handlers so tests can substitute a mock.
type EscrowService interface {
	CreateEscrow(ctx context.Context, seller, batchID string, amount *big.Int, confirmationPeriodDays uint32) (*escrow.CreateResult, error)
	ConfirmDelivery(ctx context.Context, escrowID uint64) (string, error)
	InitiateDispute(ctx context.Context, escrowID uint64, evidence string) (string, error)
	VoteOnDispute(ctx context.Context, escrowID uint64, vote escrow.Vote) (string, error)
	ResolveDispute(ctx context.Context, escrowID uint64) (string, error)
	ClaimExpiredFunds(ctx context.Context, escrowID uint64) (string, error)

	Escrow(ctx context.Context, escrowID uint64) (*escrow.EscrowTransaction, bool, error)
	EscrowsByBuyer(ctx context.Context, buyer string) ([]uint64, error)
	EscrowsBySeller(ctx context.Context, seller string) ([]uint64, error)
	DisputeVotes(ctx context.Context, escrowID uint64) ([]escrow.DisputeVote, error)
	DisputeSummary(ctx context.Context, escrowID uint64) (*escrow.DisputeResolution, error)
	TransactionCost(ctx context.Context, productPrice *big.Int) (*escrow.Cost, error)
	TotalEscrows(ctx context.Context) (uint64, error)
}

// Server is the HTTP front-end over one bound escrow client identity.
type Server struct {
	svc       EscrowService
	logger    *slog.Logger
	metrics   *Metrics
	authToken string
	timeout   time.Duration
	nowFn     func() time.Time
	router    http.Handler
}

func NewServer(svc EscrowService, logger *slog.Logger, metrics *Metrics, authToken string, timeout time.Duration) *Server {
	if svc == nil {
		panic("escrow service required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	s := &Server{
		svc:       svc,
		logger:    logger,
		metrics:   metrics,
		authToken: strings.TrimSpace(authToken),
		timeout:   timeout,
		nowFn:     time.Now,
	}
	s.router = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authenticate)

		r.With(s.metrics.Middleware("escrow_create")).Post("/escrows", s.handleCreate)
		r.With(s.metrics.Middleware("escrow_list")).Get("/escrows", s.handleList)
		r.With(s.metrics.Middleware("escrow_count")).Get("/escrows/count", s.handleCount)
		r.With(s.metrics.Middleware("fee_estimate")).Get("/fees/estimate", s.handleFeeEstimate)

		r.Route("/escrows/{id}", func(r chi.Router) {
			r.With(s.metrics.Middleware("escrow_get")).Get("/", s.handleGet)
			r.With(s.metrics.Middleware("escrow_confirm")).Post("/confirm", s.handleConfirm)
			r.With(s.metrics.Middleware("escrow_dispute")).Post("/dispute", s.handleDispute)
			r.With(s.metrics.Middleware("escrow_vote")).Post("/votes", s.handleVote)
			r.With(s.metrics.Middleware("escrow_votes")).Get("/votes", s.handleVotes)
			r.With(s.metrics.Middleware("escrow_summary")).Get("/dispute", s.handleSummary)
			r.With(s.metrics.Middleware("escrow_resolve")).Post("/resolve", s.handleResolve)
			r.With(s.metrics.Middleware("escrow_claim")).Post("/claim", s.handleClaim)
		})
	})
	return r
}

// requestID tags every request with a correlation id, honouring one supplied
// by the caller.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authToken != "" {
			supplied := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer"))
			if supplied != s.authToken {
				s.writeError(w, http.StatusUnauthorized, errors.New("invalid bearer token"))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

type createRequest struct {
	Seller                 string `json:"seller"`
	BatchID                string `json:"batchId"`
	Amount                 string `json:"amount"`
	ConfirmationPeriodDays uint32 `json:"confirmationPeriodDays"`
}

type createResponse struct {
	EscrowID uint64 `json:"escrowId"`
	TxHash   string `json:"txHash"`
}

type txResponse struct {
	TxHash string `json:"txHash"`
}

type displayResponse struct {
	EscrowID        uint64   `json:"escrowId"`
	Buyer           string   `json:"buyer"`
	Seller          string   `json:"seller"`
	BatchID         string   `json:"batchId"`
	Amount          string   `json:"amount"`
	AmountRaw       string   `json:"amountRaw"`
	Status          string   `json:"status"`
	CreatedAt       string   `json:"createdAt"`
	ConfirmDeadline string   `json:"confirmDeadline"`
	Arbitrators     []string `json:"arbitrators,omitempty"`
	Disputed        bool     `json:"disputed"`
	IsExpired       bool     `json:"isExpired"`
	CanConfirm      bool     `json:"canConfirm"`
	CanDispute      bool     `json:"canDispute"`
	CanClaimExpired bool     `json:"canClaimExpired"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(req.Amount), 10)
	if !ok {
		s.writeError(w, http.StatusBadRequest, errors.New("amount must be a decimal integer"))
		return
	}
	ctx, cancel := s.opContext(r)
	defer cancel()
	result, err := s.svc.CreateEscrow(ctx, req.Seller, req.BatchID, amount, req.ConfirmationPeriodDays)
	if err != nil {
		s.writeServiceError(w, r, "create escrow", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, createResponse{EscrowID: result.EscrowID, TxHash: result.TxHash})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := s.escrowID(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.opContext(r)
	defer cancel()
	tx, found, err := s.svc.Escrow(ctx, id)
	if err != nil {
		s.writeServiceError(w, r, "fetch escrow", err)
		return
	}
	if !found {
		s.writeError(w, http.StatusNotFound, errors.New("escrow not found"))
		return
	}
	display := escrow.FormatTransaction(tx, s.nowFn())
	s.writeJSON(w, http.StatusOK, displayResponse{
		EscrowID:        display.EscrowID,
		Buyer:           display.Buyer,
		Seller:          display.Seller,
		BatchID:         display.BatchID,
		Amount:          display.Amount,
		AmountRaw:       tx.Amount.String(),
		Status:          display.Status,
		CreatedAt:       display.CreatedAt.Format(time.RFC3339),
		ConfirmDeadline: display.ConfirmDeadline.Format(time.RFC3339),
		Arbitrators:     display.Arbitrators,
		Disputed:        display.Disputed,
		IsExpired:       display.IsExpired,
		CanConfirm:      display.CanConfirm,
		CanDispute:      display.CanDispute,
		CanClaimExpired: display.CanClaimExpired,
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	buyer := strings.TrimSpace(r.URL.Query().Get("buyer"))
	seller := strings.TrimSpace(r.URL.Query().Get("seller"))
	if (buyer == "") == (seller == "") {
		s.writeError(w, http.StatusBadRequest, errors.New("exactly one of buyer or seller is required"))
		return
	}
	ctx, cancel := s.opContext(r)
	defer cancel()
	var (
		ids []uint64
		err error
	)
	if buyer != "" {
		ids, err = s.svc.EscrowsByBuyer(ctx, buyer)
	} else {
		ids, err = s.svc.EscrowsBySeller(ctx, seller)
	}
	if err != nil {
		s.writeServiceError(w, r, "list escrows", err)
		return
	}
	if ids == nil {
		ids = []uint64{}
	}
	s.writeJSON(w, http.StatusOK, map[string][]uint64{"ids": ids})
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.opContext(r)
	defer cancel()
	count, err := s.svc.TotalEscrows(ctx)
	if err != nil {
		s.writeServiceError(w, r, "count escrows", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]uint64{"count": count})
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, "confirm delivery", s.svc.ConfirmDelivery)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, "resolve dispute", s.svc.ResolveDispute)
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, "claim expired funds", s.svc.ClaimExpiredFunds)
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, uint64) (string, error)) {
	id, ok := s.escrowID(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.opContext(r)
	defer cancel()
	txHash, err := fn(ctx, id)
	if err != nil {
		s.writeServiceError(w, r, op, err)
		return
	}
	s.writeJSON(w, http.StatusOK, txResponse{TxHash: txHash})
}

func (s *Server) handleDispute(w http.ResponseWriter, r *http.Request) {
	id, ok := s.escrowID(w, r)
	if !ok {
		return
	}
	var req struct {
		Evidence string `json:"evidence"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}
	ctx, cancel := s.opContext(r)
	defer cancel()
	txHash, err := s.svc.InitiateDispute(ctx, id, req.Evidence)
	if err != nil {
		s.writeServiceError(w, r, "initiate dispute", err)
		return
	}
	s.writeJSON(w, http.StatusOK, txResponse{TxHash: txHash})
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	id, ok := s.escrowID(w, r)
	if !ok {
		return
	}
	var req struct {
		Vote string `json:"vote"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}
	vote, err := escrow.ParseVote(req.Vote)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("vote must be buyer or seller"))
		return
	}
	ctx, cancel := s.opContext(r)
	defer cancel()
	txHash, err := s.svc.VoteOnDispute(ctx, id, vote)
	if err != nil {
		s.writeServiceError(w, r, "vote on dispute", err)
		return
	}
	s.writeJSON(w, http.StatusOK, txResponse{TxHash: txHash})
}

func (s *Server) handleVotes(w http.ResponseWriter, r *http.Request) {
	id, ok := s.escrowID(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.opContext(r)
	defer cancel()
	votes, err := s.svc.DisputeVotes(ctx, id)
	if err != nil {
		s.writeServiceError(w, r, "fetch votes", err)
		return
	}
	type voteResult struct {
		Arbitrator string `json:"arbitrator"`
		Vote       string `json:"vote"`
		Timestamp  int64  `json:"timestamp"`
	}
	results := make([]voteResult, 0, len(votes))
	for _, vote := range votes {
		results = append(results, voteResult{
			Arbitrator: vote.Arbitrator,
			Vote:       vote.Vote.String(),
			Timestamp:  vote.Timestamp,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"votes": results})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := s.escrowID(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.opContext(r)
	defer cancel()
	summary, err := s.svc.DisputeSummary(ctx, id)
	if err != nil {
		s.writeServiceError(w, r, "summarise dispute", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"escrowId":    summary.EscrowID,
		"winner":      summary.Winner,
		"buyerVotes":  summary.BuyerVotes,
		"sellerVotes": summary.SellerVotes,
		"resolved":    summary.Resolved,
		"resolvedAt":  summary.ResolvedAt,
	})
}

func (s *Server) handleFeeEstimate(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("price"))
	price, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		s.writeError(w, http.StatusBadRequest, errors.New("price must be a decimal integer"))
		return
	}
	ctx, cancel := s.opContext(r)
	defer cancel()
	cost, err := s.svc.TransactionCost(ctx, price)
	if err != nil {
		s.writeServiceError(w, r, "estimate cost", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"productPrice":   cost.ProductPrice.String(),
		"arbitrationFee": cost.ArbitrationFee.String(),
		"totalCost":      cost.TotalCost.String(),
		"estimated":      cost.Estimated,
	})
}

func (s *Server) escrowID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("escrow id must be a decimal integer"))
		return 0, false
	}
	return id, true
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	defer r.Body.Close()
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := decoder.Decode(out); err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("invalid JSON payload"))
		return false
	}
	return true
}

func (s *Server) opContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.timeout)
}

// writeServiceError maps the escrow error taxonomy onto HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, escrow.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, escrow.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, escrow.ErrPrecondition):
		status = http.StatusConflict
	case errors.Is(err, escrow.ErrLedgerRejected), errors.Is(err, escrow.ErrExtraction):
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("escrow operation failed",
			"op", op,
			"path", r.URL.Path,
			"err", err,
		)
	}
	s.writeError(w, status, err)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
