package handler

import (
	"private-ledger/internal/adapter/http/dto"
	"private-ledger/internal/adapter/http/middleware"
	"private-ledger/internal/core/ports"
	"private-ledger/pkg/apperror"
	"private-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// UserHandler handles user administration.
type UserHandler struct {
	userSvc ports.UserService
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(userSvc ports.UserService) *UserHandler {
	return &UserHandler{userSvc: userSvc}
}

// List handles GET /api/v1/users. Admin only; name and email filter exactly.
func (h *UserHandler) List(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	limit, offset := pageQuery(c)
	filter := ports.UserFilter{Limit: limit, Offset: offset}
	filter.Normalize()
	if name, ok := c.GetQuery("name"); ok {
		filter.Name = &name
	}
	if email, ok := c.GetQuery("email"); ok {
		filter.Email = &email
	}

	users, total, err := h.userSvc.List(c.Request.Context(), filter, actor)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.UserResponse, 0, len(users))
	for i := range users {
		items = append(items, dto.NewUserResponse(&users[i]))
	}
	response.Paginated(c, items, filter.Limit, filter.Offset, total)
}

// Update handles PUT and PATCH /api/v1/users/:id.
func (h *UserHandler) Update(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}
	userID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var req dto.UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	user, err := h.userSvc.Update(c.Request.Context(), userID, ports.UpdateUserRequest{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	}, actor)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Set(middleware.CtxAuditResourceID, user.ID.String())
	response.OK(c, dto.NewUserResponse(user))
}

// Delete handles DELETE /api/v1/users/:id.
func (h *UserHandler) Delete(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}
	userID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	if err := h.userSvc.Delete(c.Request.Context(), userID, actor); err != nil {
		response.Error(c, err)
		return
	}

	c.Set(middleware.CtxAuditResourceID, userID.String())
	response.OK(c, gin.H{"deleted": userID.String()})
}
