package handler

import (
	"context"
	"strconv"
	"time"

	"private-ledger/internal/adapter/http/dto"
	"private-ledger/internal/adapter/http/middleware"
	"private-ledger/internal/core/domain"
	"private-ledger/internal/core/ports"
	"private-ledger/pkg/apperror"
	"private-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderIdempotencyKey carries the client's retry key on POST /transactions.
const HeaderIdempotencyKey = "Idempotency-Key"

// TransactionHandler handles ledger operations and history.
type TransactionHandler struct {
	ledgerSvc ports.LedgerService
}

// NewTransactionHandler creates a new TransactionHandler.
func NewTransactionHandler(ledgerSvc ports.LedgerService) *TransactionHandler {
	return &TransactionHandler{ledgerSvc: ledgerSvc}
}

// Apply handles POST /api/v1/transactions.
func (h *TransactionHandler) Apply(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	idempKey := c.GetHeader(HeaderIdempotencyKey)
	if !dto.ValidIdempotencyKey(idempKey) {
		response.Error(c, apperror.Validation("invalid Idempotency-Key header"))
		return
	}

	var req dto.ApplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	op, err := domain.ParseOperationKind(req.Operation)
	if err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	to, err := uuid.Parse(req.ToAccountID)
	if err != nil {
		response.Error(c, apperror.Validation("invalid to_account_id"))
		return
	}
	var from *uuid.UUID
	if req.FromAccountID != nil {
		id, err := uuid.Parse(*req.FromAccountID)
		if err != nil {
			response.Error(c, apperror.Validation("invalid from_account_id"))
			return
		}
		from = &id
	}

	view, err := h.ledgerSvc.Apply(c.Request.Context(), ports.ApplyRequest{
		Operation:      op,
		Amount:         req.Amount,
		ToAccountID:    to,
		FromAccountID:  from,
		Actor:          actor,
		IdempotencyKey: idempKey,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Set(middleware.CtxAuditAction, domain.AuditActionFor(op))
	c.Set(middleware.CtxAuditResourceID, view.ID.String())
	response.Created(c, dto.NewTransactionResponse(view))
}

// Get handles GET /api/v1/transactions/:id.
func (h *TransactionHandler) Get(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}
	txID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	view, err := h.ledgerSvc.GetTransaction(c.Request.Context(), txID, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewTransactionResponse(view))
}

// ListByAccount handles GET /api/v1/accounts/:id/transactions.
func (h *TransactionHandler) ListByAccount(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}
	accountID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	limit, offset := pageQuery(c)
	filter := ports.TransactionFilter{AccountID: accountID, Limit: limit, Offset: offset}
	filter.Normalize()

	var err error
	if filter.CreatedFrom, err = timeQuery(c, "from"); err != nil {
		response.Error(c, err)
		return
	}
	if filter.CreatedTo, err = timeQuery(c, "to"); err != nil {
		response.Error(c, err)
		return
	}

	if s := c.Query("operation"); s != "" {
		op, err := domain.ParseOperationKind(s)
		if err != nil {
			response.Error(c, apperror.Validation(err.Error()))
			return
		}
		filter.Operation = &op
	}

	views, total, err := h.ledgerSvc.ListAccountTransactions(c.Request.Context(), filter, actor)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.TransactionResponse, 0, len(views))
	for i := range views {
		items = append(items, dto.NewTransactionResponse(&views[i]))
	}
	response.Paginated(c, items, filter.Limit, filter.Offset, total)
}

// pageQuery reads the raw limit and offset query parameters. Unparsable
// values read as zero and are clamped by the filter.
func pageQuery(c *gin.Context) (int, int) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))
	return limit, offset
}

// timeQuery parses an optional RFC 3339 query parameter.
func timeQuery(c *gin.Context, name string) (*time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, apperror.Validation("invalid " + name + ": expected RFC 3339 timestamp")
	}
	return &t, nil
}

// Amend handles PUT and PATCH /api/v1/transactions/:id. It always fails.
func (h *TransactionHandler) Amend(c *gin.Context) {
	h.refuse(c, h.ledgerSvc.AmendTransaction)
}

// Delete handles DELETE /api/v1/transactions/:id. It always fails.
func (h *TransactionHandler) Delete(c *gin.Context) {
	h.refuse(c, h.ledgerSvc.DeleteTransaction)
}

func (h *TransactionHandler) refuse(c *gin.Context, op func(ctx context.Context, id uuid.UUID, actor domain.Actor) error) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}
	txID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	response.Error(c, op(c.Request.Context(), txID, actor))
}
