package controller

import (
	"net/http"
	"strconv"

	"github.com/cassiomorais/invoicing/internal/domain/invoice"
	"github.com/cassiomorais/invoicing/internal/service"
	"github.com/go-chi/chi/v5"
)

// InvoiceController handles invoice-related HTTP requests.
type InvoiceController struct {
	invoiceService  *service.InvoiceService
	checkoutService *service.CheckoutService
	authz           *service.AuthzService
}

// NewInvoiceController creates a new InvoiceController.
func NewInvoiceController(
	invoiceService *service.InvoiceService,
	checkoutService *service.CheckoutService,
	authz *service.AuthzService,
) *InvoiceController {
	return &InvoiceController{
		invoiceService:  invoiceService,
		checkoutService: checkoutService,
		authz:           authz,
	}
}

// Create handles POST /api/v1/invoices
func (h *InvoiceController) Create(w http.ResponseWriter, r *http.Request) {
	userID, err := h.authz.CurrentUser(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	var req CreateInvoiceRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	inv, err := h.invoiceService.Create(r.Context(), service.CreateInvoiceRequest{
		UserID:      userID,
		OrderID:     req.OrderID,
		Description: req.Description,
		Amount:      req.Amount,
		Currency:    req.Currency,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, FromInvoice(inv))
}

// Get handles GET /api/v1/invoices/{id}
func (h *InvoiceController) Get(w http.ResponseWriter, r *http.Request) {
	inv, ok := h.loadOwned(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, FromInvoice(inv))
}

// List handles GET /api/v1/invoices
func (h *InvoiceController) List(w http.ResponseWriter, r *http.Request) {
	userID, err := h.authz.CurrentUser(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	filter := invoice.ListFilter{SortOrder: r.URL.Query().Get("sort")}
	if userID != "" {
		filter.UserID = &userID
	}
	if s := r.URL.Query().Get("status"); s != "" {
		status := invoice.Status(s)
		filter.Status = &status
	}
	filter.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	filter.Offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))

	invoices, err := h.invoiceService.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := make([]*InvoiceResponse, 0, len(invoices))
	for _, inv := range invoices {
		resp = append(resp, FromInvoice(inv))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"invoices": resp,
		"limit":    filter.Limit,
		"offset":   filter.Offset,
	})
}

// Stats handles GET /api/v1/invoices/stats
func (h *InvoiceController) Stats(w http.ResponseWriter, r *http.Request) {
	userID, err := h.authz.CurrentUser(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	var scope *string
	if userID != "" {
		scope = &userID
	}
	stats, err := h.invoiceService.Stats(r.Context(), scope)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromStats(stats))
}

// Checkout handles POST /api/v1/invoices/{id}/checkout
func (h *InvoiceController) Checkout(w http.ResponseWriter, r *http.Request) {
	inv, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	var req InitiateCheckoutRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.checkoutService.Initiate(r.Context(), inv.ID, service.CheckoutRequest{
		PaymentMethod:   req.PaymentMethod,
		Amount:          req.Amount,
		Currency:        req.Currency,
		SuccessURL:      req.SuccessURL,
		FailureURL:      req.FailureURL,
		WebhookEndpoint: req.WebhookEndpoint,
		CustomerID:      req.CustomerID,
		UserData:        req.UserData,
		Description:     req.Description,
		Locale:          req.Locale,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, FromCheckout(res))
}

// Refresh handles POST /api/v1/invoices/{id}/refresh
func (h *InvoiceController) Refresh(w http.ResponseWriter, r *http.Request) {
	inv, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	res, err := h.checkoutService.Refresh(r.Context(), inv.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromTransition(res))
}

// Events handles GET /api/v1/invoices/{id}/events
func (h *InvoiceController) Events(w http.ResponseWriter, r *http.Request) {
	inv, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	entries, err := h.invoiceService.Events(r.Context(), inv.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := make([]*EventResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, FromEntry(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": resp})
}

// loadOwned reads the {id} invoice and checks the caller may see it. It
// writes the error response itself and returns false on failure.
func (h *InvoiceController) loadOwned(w http.ResponseWriter, r *http.Request) (*invoice.Invoice, bool) {
	id, err := parseInvoiceID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return nil, false
	}

	inv, err := h.invoiceService.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	if err := h.authz.VerifyInvoiceOwnership(r.Context(), inv); err != nil {
		writeError(w, err)
		return nil, false
	}
	return inv, true
}
