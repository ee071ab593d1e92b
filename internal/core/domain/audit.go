package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of audited action.
type AuditAction string

const (
	AuditActionRegister    AuditAction = "REGISTER"
	AuditActionLogin       AuditAction = "LOGIN"
	AuditActionOpenAccount AuditAction = "OPEN_ACCOUNT"
	AuditActionUpdateUser  AuditAction = "UPDATE_USER"
	AuditActionDeleteUser  AuditAction = "DELETE_USER"
)

// AuditActionFor maps a ledger operation to its audit action (DEPOSIT, FEE, ...).
func AuditActionFor(op OperationKind) AuditAction {
	return AuditAction(strings.ToUpper(string(op)))
}

// AuditLog records a single audited action. It never carries amounts.
type AuditLog struct {
	ID           uuid.UUID   `json:"id"`
	UserID       *uuid.UUID  `json:"user_id,omitempty"`
	Action       AuditAction `json:"action"`
	ResourceType string      `json:"resource_type"`
	ResourceID   string      `json:"resource_id,omitempty"`
	Details      string      `json:"details,omitempty"` // JSON string
	IPAddress    string      `json:"ip_address"`
	CreatedAt    time.Time   `json:"created_at"`
}
