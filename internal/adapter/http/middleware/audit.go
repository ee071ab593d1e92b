package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"private-ledger/internal/core/domain"
	"private-ledger/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Handlers set these to refine the audit entry of the current request.
const (
	CtxAuditAction     = "audit_action"
	CtxAuditResourceID = "audit_resource_id"
	CtxAuditUserID     = "audit_user_id"
)

// AuditLog records successful write requests. Entries never carry amounts
// or balances.
func AuditLog(auditSvc ports.AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		status := c.Writer.Status()
		if status < 200 || status >= 300 {
			return
		}
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			return
		}

		action, resourceType := mapRouteToAction(c.FullPath(), c.Request.Method)
		if a, ok := c.Get(CtxAuditAction); ok {
			if aa, ok := a.(domain.AuditAction); ok {
				action = aa
			}
		}
		if action == "" {
			return
		}

		var userID *uuid.UUID
		for _, key := range []string{CtxUserID, CtxAuditUserID} {
			if v, exists := c.Get(key); exists {
				if id, ok := v.(uuid.UUID); ok {
					userID = &id
					break
				}
			}
		}

		details, _ := json.Marshal(map[string]interface{}{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"status": status,
		})

		auditSvc.Log(c.Request.Context(), &domain.AuditLog{
			ID:           uuid.Must(uuid.NewV7()),
			UserID:       userID,
			Action:       action,
			ResourceType: resourceType,
			ResourceID:   c.GetString(CtxAuditResourceID),
			IPAddress:    c.ClientIP(),
			Details:      string(details),
			CreatedAt:    time.Now().UTC(),
		})
	}
}

func mapRouteToAction(route, method string) (domain.AuditAction, string) {
	switch method + " " + route {
	case "POST /api/v1/auth/register":
		return domain.AuditActionRegister, "user"
	case "POST /api/v1/auth/login":
		return domain.AuditActionLogin, "session"
	case "POST /api/v1/accounts":
		return domain.AuditActionOpenAccount, "account"
	case "POST /api/v1/transactions":
		// The handler sets the concrete operation.
		return "", "transaction"
	case "PUT /api/v1/users/:id", "PATCH /api/v1/users/:id":
		return domain.AuditActionUpdateUser, "user"
	case "DELETE /api/v1/users/:id":
		return domain.AuditActionDeleteUser, "user"
	}
	return "", ""
}
