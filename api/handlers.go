/*
handlers.go - HTTP API handlers for the credit engine

PURPOSE:
  Exposes the credit engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Customers:
    GET    /api/customers                     List customers
    POST   /api/customers                     Register customer
    GET    /api/customers/{id}                Get customer
    GET    /api/customers/{id}/availability   Available credit (?amount=)
    GET    /api/customers/{id}/credit-lines   Credit line history
    POST   /api/customers/{id}/credit-lines   Issue credit (sale portion)
    POST   /api/customers/{id}/payments       Bulk payment allocation
    GET    /api/customers/{id}/statement      Running-balance statement

  Credit lines:
    POST   /api/credit-lines/{id}/payments    Single-line payment

  Admin:
    POST   /api/admin/consistency             On-demand invariant sweep

ERROR HANDLING:
  Domain errors are translated to JSON with stable HTTP statuses:
  - 400: Malformed input (bad JSON, bad amounts, bad dates)
  - 404: Customer or credit line not found
  - 409: Retry budget exhausted on a store conflict
  - 422: Insufficient credit, overpayment, exceeds balance
  - 500: Invariant violation (logged with the full entry dump) or other
  - 504: Caller deadline exceeded mid-retry

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/credit-engine/credit"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers. The store handle comes
// in through the service; swapping in the in-memory store is how the
// handler tests run without a database file.
type Handler struct {
	Service *credit.Service
}

// NewHandler creates a new handler over the given service.
func NewHandler(service *credit.Service) *Handler {
	return &Handler{Service: service}
}

// =============================================================================
// CUSTOMER HANDLERS
// =============================================================================

// ListCustomers returns all customers.
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.Service.Store.ListCustomers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list customers", err)
		return
	}

	dtos := make([]CustomerDTO, len(customers))
	for i, c := range customers {
		dtos[i] = toCustomerDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateCustomer registers a new customer.
func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req CreateCustomerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required", nil)
		return
	}
	if req.CreditLimit < 0 {
		writeError(w, http.StatusBadRequest, "credit_limit must be >= 0", nil)
		return
	}

	customer, err := h.Service.CreateCustomer(r.Context(), req.Name, req.Phone, credit.NewMoney(req.CreditLimit))
	if err != nil {
		writeDomainError(w, "Failed to create customer", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCustomerDTO(*customer))
}

// GetCustomer returns a single customer.
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	id := credit.CustomerID(chi.URLParam(r, "id"))

	customer, err := h.Service.Store.GetCustomer(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get customer", err)
		return
	}
	if customer == nil {
		writeError(w, http.StatusNotFound, "Customer not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerDTO(*customer))
}

// CheckAvailability reports available credit; ?amount= asks whether a
// specific purchase would fit.
func (h *Handler) CheckAvailability(w http.ResponseWriter, r *http.Request) {
	id := credit.CustomerID(chi.URLParam(r, "id"))

	requested := credit.Zero()
	if raw := r.URL.Query().Get("amount"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 {
			writeError(w, http.StatusBadRequest, "Invalid amount", err)
			return
		}
		requested = credit.NewMoney(v)
	}

	avail, err := h.Service.CheckAvailability(r.Context(), id, requested)
	if err != nil {
		writeDomainError(w, "Failed to check availability", err)
		return
	}

	writeJSON(w, http.StatusOK, AvailabilityDTO{
		CustomerID: string(avail.CustomerID),
		Limit:      avail.Limit.Float64(),
		Balance:    avail.Balance.Float64(),
		Available:  avail.Available.Float64(),
		Requested:  requested.Float64(),
		Sufficient: avail.Sufficient,
	})
}

// =============================================================================
// CREDIT LINE HANDLERS
// =============================================================================

// ListCreditLines returns a customer's credit lines, newest first.
func (h *Handler) ListCreditLines(w http.ResponseWriter, r *http.Request) {
	id := credit.CustomerID(chi.URLParam(r, "id"))

	lines, err := h.Service.Store.CreditLinesByCustomer(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list credit lines", err)
		return
	}

	dtos := make([]CreditLineDTO, len(lines))
	for i, cl := range lines {
		dtos[i] = toCreditLineDTO(cl)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// IssueCredit opens a credit line for the credit-financed portion of a sale.
func (h *Handler) IssueCredit(w http.ResponseWriter, r *http.Request) {
	id := credit.CustomerID(chi.URLParam(r, "id"))

	var req IssueCreditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive", nil)
		return
	}

	line, err := h.Service.IssueCredit(r.Context(), id, credit.SaleID(req.SaleID), credit.NewMoney(req.Amount))
	if err != nil {
		writeDomainError(w, "Failed to issue credit", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCreditLineDTO(*line))
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// ApplyPayment pays down one specific credit line.
func (h *Handler) ApplyPayment(w http.ResponseWriter, r *http.Request) {
	lineID := credit.CreditLineID(chi.URLParam(r, "id"))

	var req ApplyPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive", nil)
		return
	}

	payment, err := h.Service.ApplyPayment(r.Context(),
		credit.CustomerID(req.CustomerID), lineID,
		credit.NewMoney(req.Amount), req.Method, req.Notes)
	if err != nil {
		writeDomainError(w, "Failed to apply payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentDTO(*payment))
}

// ApplyPaymentBulk distributes one lump payment across the customer's open
// credit lines, oldest first.
func (h *Handler) ApplyPaymentBulk(w http.ResponseWriter, r *http.Request) {
	id := credit.CustomerID(chi.URLParam(r, "id"))

	var req BulkPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive", nil)
		return
	}

	result, err := h.Service.ApplyPaymentBulk(r.Context(), id, credit.NewMoney(req.Amount), req.Method)
	if err != nil {
		writeDomainError(w, "Failed to apply bulk payment", err)
		return
	}

	dto := BulkPaymentDTO{
		Payments:  make([]PaymentDTO, len(result.Payments)),
		Applied:   result.Applied.Float64(),
		Unapplied: result.Unapplied.Float64(),
	}
	for i, p := range result.Payments {
		dto.Payments[i] = toPaymentDTO(p)
	}
	writeJSON(w, http.StatusCreated, dto)
}

// =============================================================================
// STATEMENT HANDLERS
// =============================================================================

// GetStatement replays a customer's ledger into a running-balance trace.
// Optional ?from= / ?to= bounds (YYYY-MM-DD or RFC3339).
func (h *Handler) GetStatement(w http.ResponseWriter, r *http.Request) {
	id := credit.CustomerID(chi.URLParam(r, "id"))

	from, err := parseTimeParam(r.URL.Query().Get("from"), false)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from (use YYYY-MM-DD or RFC3339)", err)
		return
	}
	to, err := parseTimeParam(r.URL.Query().Get("to"), true)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to (use YYYY-MM-DD or RFC3339)", err)
		return
	}

	statement, err := h.Service.BuildStatement(r.Context(), id, from, to)
	if err != nil {
		writeDomainError(w, "Failed to build statement", err)
		return
	}

	summary := statement.Summarize()
	dto := StatementDTO{
		CustomerID:   string(id),
		Lines:        []StatementLineDTO{},
		DebitCount:   summary.DebitCount,
		DebitTotal:   summary.DebitTotal.Float64(),
		CreditCount:  summary.CreditCount,
		CreditTotal:  summary.CreditTotal.Float64(),
		FinalBalance: summary.FinalBalance.Float64(),
	}
	if summary.LastDebitAt != nil {
		s := summary.LastDebitAt.Format(time.RFC3339)
		dto.LastDebitAt = &s
	}
	if summary.LastCreditAt != nil {
		s := summary.LastCreditAt.Format(time.RFC3339)
		dto.LastCreditAt = &s
	}

	statement.Replay(func(l credit.StatementLine) bool {
		dto.Lines = append(dto.Lines, StatementLineDTO{
			EntryID:      int64(l.Entry.ID),
			CreditLineID: string(l.Entry.CreditLineID),
			Kind:         string(l.Entry.Kind),
			Direction:    string(l.Entry.Direction),
			Amount:       l.Entry.Amount.Float64(),
			Description:  l.Entry.Description,
			Reference:    l.Entry.Reference,
			OccurredAt:   l.Entry.OccurredAt.Format(time.RFC3339),
			Balance:      l.BalanceAfter.Float64(),
		})
		return true
	})

	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// RunConsistencyCheck sweeps every customer and verifies the balance
// invariant. Violations are logged loudly and reported in the response.
func (h *Handler) RunConsistencyCheck(w http.ResponseWriter, r *http.Request) {
	customers, err := h.Service.Store.ListCustomers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list customers", err)
		return
	}

	results := make([]ConsistencyDTO, 0, len(customers))
	violations := 0
	for _, c := range customers {
		res := ConsistencyDTO{CustomerID: string(c.ID), OK: true}
		if err := h.Service.VerifyBalance(r.Context(), c.ID); err != nil {
			res.OK = false
			res.Detail = err.Error()
			violations++
			logInvariantViolation(r.Context(), h.Service, c.ID, err)
		}
		results = append(results, res)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"checked":    len(results),
		"violations": violations,
		"results":    results,
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps engine errors to stable HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	var timeout *credit.TimeoutError

	switch {
	case credit.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case credit.IsClientError(err):
		writeError(w, http.StatusUnprocessableEntity, message, err)
	case errors.As(err, &timeout):
		writeError(w, http.StatusGatewayTimeout, message, err)
	case errors.Is(err, credit.ErrTransactionConflict):
		writeError(w, http.StatusConflict, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func parseTimeParam(raw string, endOfDay bool) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}
