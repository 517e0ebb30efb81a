package api

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"log/slog"

	"go.payrelay.dev/internal/common/repository"
	"go.payrelay.dev/internal/queue"
	"go.payrelay.dev/internal/store"
	"go.payrelay.dev/internal/validate"
)

// receiverPattern matches NEAR account ids: lowercase alphanumeric
// segments joined by - or _, with dot-separated parts.
var receiverPattern = regexp.MustCompile(`^(([a-z\d]+[-_])*[a-z\d]+\.)*([a-z\d]+[-_])*[a-z\d]+$`)

func validReceiver(id string) bool {
	return len(id) >= 2 && len(id) <= 64 && receiverPattern.MatchString(id)
}

// RecipientChecker reports whether a receiver exists on chain and is
// registered with the token contract. Implemented by validate.Validator.
type RecipientChecker interface {
	Check(ctx context.Context, accountID string) (validate.Result, error)
}

// TransferHandler handles transfer endpoints
type TransferHandler struct {
	queue   *queue.Queue
	checker RecipientChecker
}

// NewTransferHandler creates a new transfer handler. checker may be nil,
// in which case enqueue requests without a storage-deposit flag fall
// through to the queue default.
func NewTransferHandler(q *queue.Queue, checker RecipientChecker) *TransferHandler {
	return &TransferHandler{queue: q, checker: checker}
}

// Routes returns the router for transfer endpoints
func (h *TransferHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Create)
	r.Post("/batch", h.CreateBatch)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Post("/unstall", h.UnstallMany)
	r.Post("/{id}/unstall", h.Unstall)

	return r
}

// CreateTransferRequest represents a request to enqueue a transfer
type CreateTransferRequest struct {
	ReceiverID        string `json:"receiverId"`
	Amount            string `json:"amount"`
	Memo              string `json:"memo,omitempty"`
	HasStorageDeposit *bool  `json:"hasStorageDeposit,omitempty"`
}

// TransferDTO represents a queued transfer for API responses
type TransferDTO struct {
	ID                int64  `json:"id"`
	Receiver          string `json:"receiver"`
	Amount            string `json:"amount"`
	Memo              string `json:"memo,omitempty"`
	HasStorageDeposit bool   `json:"hasStorageDeposit"`
	State             string `json:"state"`
	RetryCount        int    `json:"retryCount"`
	ErrorMessage      string `json:"errorMessage,omitempty"`
	BatchID           *int64 `json:"batchId,omitempty"`
	CreatedAt         string `json:"createdAt"`
	UpdatedAt         string `json:"updatedAt"`
}

// TransferListResponse represents a filtered transfer listing
type TransferListResponse struct {
	Items []TransferDTO `json:"items"`
	Count int           `json:"count"`
}

// BatchTransferResult represents the outcome of one entry in a batch enqueue
type BatchTransferResult struct {
	ID    int64  `json:"id,omitempty"`
	Error string `json:"error,omitempty"`
}

// BatchTransferResponse represents the response for batch enqueue
type BatchTransferResponse struct {
	Results   []BatchTransferResult `json:"results"`
	Succeeded int                   `json:"succeeded"`
	Failed    int                   `json:"failed"`
}

// UnstallRequest represents a request to unstall transfers
type UnstallRequest struct {
	IDs []int64 `json:"ids,omitempty"`
	All bool    `json:"all,omitempty"`
}

// UnstallResponse reports how many transfers returned to scheduling
type UnstallResponse struct {
	Unstalled int64 `json:"unstalled"`
}

// Create handles POST /api/transfers
//
//	@Summary		Enqueue a transfer
//	@Description	Queues a token transfer for batched on-chain submission
//	@Tags			Transfers
//	@Accept			json
//	@Produce		json
//	@Param			transfer	body		CreateTransferRequest	true	"Transfer to enqueue"
//	@Success		201			{object}	TransferDTO				"Queued transfer"
//	@Failure		400			{object}	ErrorResponse			"Invalid request"
//	@Failure		500			{object}	ErrorResponse			"Internal server error"
//	@Router			/transfers [post]
func (h *TransferHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateTransferRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}

	if msg, ok := validateTransferRequest(&req); !ok {
		WriteBadRequest(w, msg)
		return
	}

	item, err := h.queue.Enqueue(r.Context(), queue.EnqueueRequest{
		Receiver:          req.ReceiverID,
		Amount:            req.Amount,
		Memo:              req.Memo,
		HasStorageDeposit: h.resolveDeposit(r.Context(), req.ReceiverID, req.HasStorageDeposit),
	})
	if err != nil {
		if errors.Is(err, queue.ErrInvalidAmount) {
			WriteBadRequest(w, "amount must be a decimal string of a non-negative integer")
			return
		}
		slog.Error("Failed to enqueue transfer", "error", err, "receiver", req.ReceiverID)
		WriteInternalError(w, "Failed to enqueue transfer")
		return
	}

	WriteJSON(w, http.StatusCreated, toTransferDTO(item))
}

// CreateBatch handles POST /api/transfers/batch
//
//	@Summary		Enqueue multiple transfers
//	@Description	Queues up to 100 transfers with per-entry results
//	@Tags			Transfers
//	@Accept			json
//	@Produce		json
//	@Param			transfers	body		[]CreateTransferRequest	true	"Transfers to enqueue"
//	@Success		201			{object}	BatchTransferResponse	"All transfers queued"
//	@Success		207			{object}	BatchTransferResponse	"Some transfers rejected"
//	@Failure		400			{object}	ErrorResponse			"Invalid request"
//	@Router			/transfers/batch [post]
func (h *TransferHandler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var requests []CreateTransferRequest
	if err := DecodeJSON(r, &requests); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}

	if len(requests) == 0 {
		WriteBadRequest(w, "At least one transfer is required")
		return
	}
	if len(requests) > 100 {
		WriteBadRequest(w, "Maximum 100 transfers per batch")
		return
	}

	resp := BatchTransferResponse{Results: make([]BatchTransferResult, len(requests))}
	for i := range requests {
		req := &requests[i]
		if msg, ok := validateTransferRequest(req); !ok {
			resp.Results[i] = BatchTransferResult{Error: msg}
			resp.Failed++
			continue
		}

		item, err := h.queue.Enqueue(r.Context(), queue.EnqueueRequest{
			Receiver:          req.ReceiverID,
			Amount:            req.Amount,
			Memo:              req.Memo,
			HasStorageDeposit: h.resolveDeposit(r.Context(), req.ReceiverID, req.HasStorageDeposit),
		})
		if err != nil {
			if errors.Is(err, queue.ErrInvalidAmount) {
				resp.Results[i] = BatchTransferResult{Error: "amount must be a decimal string of a non-negative integer"}
			} else {
				slog.Error("Failed to enqueue transfer", "error", err, "receiver", req.ReceiverID)
				resp.Results[i] = BatchTransferResult{Error: "Failed to enqueue transfer"}
			}
			resp.Failed++
			continue
		}

		resp.Results[i] = BatchTransferResult{ID: item.ID}
		resp.Succeeded++
	}

	status := http.StatusCreated
	if resp.Failed > 0 {
		status = http.StatusMultiStatus
	}
	WriteJSON(w, status, resp)
}

// Get handles GET /api/transfers/{id}
//
//	@Summary		Get a transfer by id
//	@Description	Retrieves a single queued transfer with its derived state
//	@Tags			Transfers
//	@Produce		json
//	@Param			id	path		integer			true	"Transfer id"
//	@Success		200	{object}	TransferDTO		"Transfer found"
//	@Failure		400	{object}	ErrorResponse	"Invalid id"
//	@Failure		404	{object}	ErrorResponse	"Transfer not found"
//	@Failure		500	{object}	ErrorResponse	"Internal server error"
//	@Router			/transfers/{id} [get]
func (h *TransferHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		WriteBadRequest(w, "Invalid transfer id")
		return
	}

	item, err := h.queue.Item(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			WriteNotFound(w, "Transfer not found")
			return
		}
		slog.Error("Failed to get transfer", "error", err, "id", id)
		WriteInternalError(w, "Failed to get transfer")
		return
	}

	WriteJSON(w, http.StatusOK, toTransferDTO(item))
}

// List handles GET /api/transfers
//
//	@Summary		List transfers
//	@Description	Lists queued transfers filtered by receiver and stall flag
//	@Tags			Transfers
//	@Produce		json
//	@Param			receiver	query		string					false	"Filter by receiver"
//	@Param			stalled		query		boolean					false	"Filter by stall flag"
//	@Param			limit		query		integer					false	"Maximum results (default 100)"
//	@Success		200			{object}	TransferListResponse	"Matching transfers"
//	@Failure		400			{object}	ErrorResponse			"Invalid filter"
//	@Failure		500			{object}	ErrorResponse			"Internal server error"
//	@Router			/transfers [get]
func (h *TransferHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := store.ListFilter{Receiver: r.URL.Query().Get("receiver")}

	if v := r.URL.Query().Get("stalled"); v != "" {
		stalled, err := strconv.ParseBool(v)
		if err != nil {
			WriteBadRequest(w, "Invalid stalled value")
			return
		}
		filter.Stalled = &stalled
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	filter.Limit = limit

	items, err := h.queue.List(r.Context(), filter)
	if err != nil {
		slog.Error("Failed to list transfers", "error", err)
		WriteInternalError(w, "Failed to list transfers")
		return
	}

	dtos := make([]TransferDTO, len(items))
	for i, item := range items {
		dtos[i] = toTransferDTO(item)
	}

	WriteJSON(w, http.StatusOK, TransferListResponse{Items: dtos, Count: len(dtos)})
}

// Unstall handles POST /api/transfers/{id}/unstall
//
//	@Summary		Unstall a transfer
//	@Description	Returns one stalled transfer to scheduling
//	@Tags			Transfers
//	@Produce		json
//	@Param			id	path		integer			true	"Transfer id"
//	@Success		200	{object}	UnstallResponse	"Count of transfers unstalled"
//	@Failure		400	{object}	ErrorResponse	"Invalid id"
//	@Failure		500	{object}	ErrorResponse	"Internal server error"
//	@Router			/transfers/{id}/unstall [post]
func (h *TransferHandler) Unstall(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		WriteBadRequest(w, "Invalid transfer id")
		return
	}

	n, err := h.queue.Unstall(r.Context(), id)
	if err != nil {
		slog.Error("Failed to unstall transfer", "error", err, "id", id)
		WriteInternalError(w, "Failed to unstall transfer")
		return
	}

	WriteJSON(w, http.StatusOK, UnstallResponse{Unstalled: n})
}

// UnstallMany handles POST /api/transfers/unstall
//
//	@Summary		Unstall transfers
//	@Description	Returns the listed stalled transfers, or all of them, to scheduling
//	@Tags			Transfers
//	@Accept			json
//	@Produce		json
//	@Param			request	body		UnstallRequest	true	"Ids to unstall, or all"
//	@Success		200		{object}	UnstallResponse	"Count of transfers unstalled"
//	@Failure		400		{object}	ErrorResponse	"Invalid request"
//	@Failure		500		{object}	ErrorResponse	"Internal server error"
//	@Router			/transfers/unstall [post]
func (h *TransferHandler) UnstallMany(w http.ResponseWriter, r *http.Request) {
	var req UnstallRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}

	var (
		n   int64
		err error
	)
	switch {
	case req.All:
		n, err = h.queue.UnstallAll(r.Context())
	case len(req.IDs) > 0:
		n, err = h.queue.UnstallMany(r.Context(), req.IDs)
	default:
		WriteBadRequest(w, "ids or all is required")
		return
	}
	if err != nil {
		slog.Error("Failed to unstall transfers", "error", err)
		WriteInternalError(w, "Failed to unstall transfers")
		return
	}

	WriteJSON(w, http.StatusOK, UnstallResponse{Unstalled: n})
}

// resolveDeposit fills a missing storage-deposit flag from the recipient
// checker. Lookup failures fall through to the queue default; enqueue is
// never blocked by RPC trouble.
func (h *TransferHandler) resolveDeposit(ctx context.Context, receiver string, flag *bool) *bool {
	if flag != nil || h.checker == nil {
		return flag
	}
	res, err := h.checker.Check(ctx, receiver)
	if err != nil {
		slog.Debug("Recipient check failed, using queue default", "receiver", receiver, "error", err)
		return nil
	}
	registered := res.Registered
	return &registered
}

func validateTransferRequest(req *CreateTransferRequest) (string, bool) {
	if req.ReceiverID == "" {
		return "receiverId is required", false
	}
	if !validReceiver(req.ReceiverID) {
		return "receiverId is not a valid account id", false
	}
	if req.Amount == "" {
		return "amount is required", false
	}
	return "", true
}

func toTransferDTO(item *store.Item) TransferDTO {
	return TransferDTO{
		ID:                item.ID,
		Receiver:          item.Receiver,
		Amount:            item.Amount,
		Memo:              item.Memo,
		HasStorageDeposit: item.HasStorageDeposit,
		State:             string(item.State()),
		RetryCount:        item.RetryCount,
		ErrorMessage:      item.ErrorMessage,
		BatchID:           item.BatchID,
		CreatedAt:         item.CreatedAt.Format(time.RFC3339),
		UpdatedAt:         item.UpdatedAt.Format(time.RFC3339),
	}
}
