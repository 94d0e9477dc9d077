package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type DebtStatus string

const (
	DebtStatusPending DebtStatus = "pendiente"
	DebtStatusOverdue DebtStatus = "vencido"
	DebtStatusPaid    DebtStatus = "pagado"
)

// Debt is a receivable owed by a Client. Balance never goes negative and a
// paid debt always has a zero balance.
type Debt struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	ClientID     uint            `gorm:"not null;index" json:"client_id"`
	Client       *Client         `gorm:"foreignKey:ClientID" json:"client,omitempty"`
	Description  string          `gorm:"type:varchar(255)" json:"description"`
	Amount       decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Balance      decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"balance"`
	Currency     string          `gorm:"type:char(3);not null;default:'MXN'" json:"currency"`
	IssueDate    time.Time       `gorm:"type:timestamp;not null" json:"issue_date"`
	DueDate      time.Time       `gorm:"type:timestamp;not null;index:idx_debts_status_due,priority:2" json:"due_date"`
	Status       DebtStatus      `gorm:"type:varchar(20);not null;default:'pendiente';index:idx_debts_status_due,priority:1" json:"status"`
	InterestRate decimal.Decimal `gorm:"type:decimal(5,2);not null;default:0" json:"interest_rate"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// Settleable reports whether the reconciler may move the debt to paid.
func (d *Debt) Settleable() bool {
	return d.Status == DebtStatusPending || d.Status == DebtStatusOverdue
}

// IsOverdue reports whether a pending debt has passed its due date while
// still carrying a balance.
func (d *Debt) IsOverdue(now time.Time) bool {
	return d.Status == DebtStatusPending && d.DueDate.Before(now) && d.Balance.IsPositive()
}

// ParseDebtStatus maps a stored or user supplied literal onto the canonical
// lowercase status. Older chatbot code wrote "PENDIENTE"; it maps to pending.
func ParseDebtStatus(raw string) (DebtStatus, bool) {
	switch DebtStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case DebtStatusPending:
		return DebtStatusPending, true
	case DebtStatusOverdue:
		return DebtStatusOverdue, true
	case DebtStatusPaid:
		return DebtStatusPaid, true
	default:
		return "", false
	}
}
