/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts cross the wire as JSON numbers. They are converted to
  credit.Money (2-decimal rounding) immediately on receipt; handlers never
  do arithmetic on the raw floats.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/credit-engine/credit"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// CustomerDTO represents a customer in API responses.
type CustomerDTO struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Phone          string  `json:"phone,omitempty"`
	CreditLimit    float64 `json:"credit_limit"`
	CurrentBalance float64 `json:"current_balance"`
	Available      float64 `json:"available"`
	CreatedAt      string  `json:"created_at,omitempty"`
}

func toCustomerDTO(c credit.Customer) CustomerDTO {
	return CustomerDTO{
		ID:             string(c.ID),
		Name:           c.Name,
		Phone:          c.Phone,
		CreditLimit:    c.CreditLimit.Float64(),
		CurrentBalance: c.CurrentBalance.Float64(),
		Available:      c.Available().Float64(),
		CreatedAt:      c.CreatedAt.Format(time.RFC3339),
	}
}

// CreateCustomerRequest is the request to register a customer.
type CreateCustomerRequest struct {
	Name        string  `json:"name"`
	Phone       string  `json:"phone"`
	CreditLimit float64 `json:"credit_limit"`
}

// AvailabilityDTO is the response to an availability check.
type AvailabilityDTO struct {
	CustomerID string  `json:"customer_id"`
	Limit      float64 `json:"credit_limit"`
	Balance    float64 `json:"current_balance"`
	Available  float64 `json:"available"`
	Requested  float64 `json:"requested,omitempty"`
	Sufficient bool    `json:"sufficient"`
}

// CreditLineDTO represents a credit line in API responses.
type CreditLineDTO struct {
	ID         string  `json:"id"`
	CustomerID string  `json:"customer_id"`
	SaleID     string  `json:"sale_id"`
	Original   float64 `json:"original_amount"`
	Paid       float64 `json:"paid_amount"`
	Remaining  float64 `json:"remaining_amount"`
	Status     string  `json:"status"`
	CreatedAt  string  `json:"created_at"`
}

func toCreditLineDTO(cl credit.CreditLine) CreditLineDTO {
	return CreditLineDTO{
		ID:         string(cl.ID),
		CustomerID: string(cl.CustomerID),
		SaleID:     string(cl.SaleID),
		Original:   cl.Original.Float64(),
		Paid:       cl.Paid.Float64(),
		Remaining:  cl.Remaining.Float64(),
		Status:     string(cl.Status),
		CreatedAt:  cl.CreatedAt.Format(time.RFC3339),
	}
}

// IssueCreditRequest opens a credit line for a sale's credit portion.
type IssueCreditRequest struct {
	SaleID string  `json:"sale_id"`
	Amount float64 `json:"amount"`
}

// PaymentDTO represents a payment in API responses.
type PaymentDTO struct {
	ID           string  `json:"id"`
	CreditLineID string  `json:"credit_line_id"`
	CustomerID   string  `json:"customer_id"`
	Amount       float64 `json:"amount"`
	Method       string  `json:"method"`
	Notes        string  `json:"notes,omitempty"`
	PaidAt       string  `json:"paid_at"`
}

func toPaymentDTO(p credit.Payment) PaymentDTO {
	return PaymentDTO{
		ID:           string(p.ID),
		CreditLineID: string(p.CreditLineID),
		CustomerID:   string(p.CustomerID),
		Amount:       p.Amount.Float64(),
		Method:       p.Method,
		Notes:        p.Notes,
		PaidAt:       p.PaidAt.Format(time.RFC3339),
	}
}

// ApplyPaymentRequest pays down one specific credit line.
type ApplyPaymentRequest struct {
	CustomerID string  `json:"customer_id"`
	Amount     float64 `json:"amount"`
	Method     string  `json:"method"`
	Notes      string  `json:"notes"`
}

// BulkPaymentRequest distributes one lump payment across open lines.
type BulkPaymentRequest struct {
	Amount float64 `json:"amount"`
	Method string  `json:"method"`
}

// BulkPaymentDTO is the allocation result.
type BulkPaymentDTO struct {
	Payments  []PaymentDTO `json:"payments"`
	Applied   float64      `json:"applied"`
	Unapplied float64      `json:"unapplied"`
}

// StatementLineDTO pairs a ledger entry with the balance after it.
type StatementLineDTO struct {
	EntryID      int64   `json:"entry_id"`
	CreditLineID string  `json:"credit_line_id,omitempty"`
	Kind         string  `json:"kind"`
	Direction    string  `json:"direction"`
	Amount       float64 `json:"amount"`
	Description  string  `json:"description,omitempty"`
	Reference    string  `json:"reference,omitempty"`
	OccurredAt   string  `json:"occurred_at"`
	Balance      float64 `json:"balance_after"`
}

// StatementDTO is the full statement response.
type StatementDTO struct {
	CustomerID   string             `json:"customer_id"`
	Lines        []StatementLineDTO `json:"lines"`
	DebitCount   int                `json:"debit_count"`
	DebitTotal   float64            `json:"debit_total"`
	CreditCount  int                `json:"credit_count"`
	CreditTotal  float64            `json:"credit_total"`
	LastDebitAt  *string            `json:"last_debit_at,omitempty"`
	LastCreditAt *string            `json:"last_credit_at,omitempty"`
	FinalBalance float64            `json:"final_balance"`
}

// ConsistencyDTO reports one customer's invariant check outcome.
type ConsistencyDTO struct {
	CustomerID string `json:"customer_id"`
	OK         bool   `json:"ok"`
	Detail     string `json:"detail,omitempty"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
