/*
handlers.go - HTTP API handlers for FichFlow

PURPOSE:
  Exposes the credit ledger and the generation workflow over REST.
  Handles HTTP request/response and JSON serialization, delegates all
  business decisions to the domain packages.

ENDPOINTS:
  Account:
    GET    /api/me                       Authenticated account + balance
    GET    /api/credits/transactions     Ledger history
    GET    /api/credits/packs            Pack catalog
    POST   /api/credits/checkout         Create a payment session

  Products:
    POST   /api/products/generate        Generate a sheet (consumes 1 credit)
    GET    /api/products                 List products
    GET    /api/products/{id}            Product detail
    GET    /api/products/{id}/pdf        PDF export
    DELETE /api/products/{id}            Delete product

  Payments:
    POST   /api/stripe/webhook           Payment notifications (signature-checked)

  Admin:
    POST   /api/admin/credits            Bonus grant
    GET    /api/admin/users              All accounts
    GET    /api/admin/audit              Balance-vs-ledger audit

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 401: Missing/invalid token
  - 402: Insufficient credits
  - 403: Admin endpoint without admin role
  - 404: Resource not found
  - 500: Internal errors, store failures

SEE ALSO:
  - auth.go: Authentication middleware and account sync
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/fichflow/fichflow/credit"
	"github.com/fichflow/fichflow/payment"
	"github.com/fichflow/fichflow/product"
)

// maxWebhookBody caps how much of a webhook payload we read.
const maxWebhookBody = 1 << 20

// =============================================================================
// HANDLER
// =============================================================================

// Deps are the collaborators the handlers need. Everything is injected;
// there are no package-level clients.
type Deps struct {
	Accounts  credit.Store
	Products  product.Store
	Ledger    *credit.Ledger
	Generator *product.Generator
	Checkout  *payment.Checkout         // nil when Stripe is not configured
	Webhook   *payment.WebhookProcessor // nil when Stripe is not configured

	JWTSecret    string
	IsAdminEmail func(email string) bool
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Deps
}

// NewHandler creates a handler with the given dependencies.
func NewHandler(deps Deps) *Handler {
	return &Handler{Deps: deps}
}

// =============================================================================
// ACCOUNT / CREDITS
// =============================================================================

// Me returns the authenticated account with its current balance.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	acct, _ := AccountFromContext(r.Context())
	writeJSON(w, http.StatusOK, toAccountDTO(acct))
}

// ListTransactions returns the account's credit history, newest first.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	acct, _ := AccountFromContext(r.Context())

	txs, err := h.Ledger.Transactions(r.Context(), acct.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Erreur interne du serveur.", err)
		return
	}

	dtos := make([]TransactionDTO, 0, len(txs))
	for i := len(txs) - 1; i >= 0; i-- {
		dtos = append(dtos, toTransactionDTO(txs[i]))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListPacks returns the credit pack catalog.
func (h *Handler) ListPacks(w http.ResponseWriter, r *http.Request) {
	dtos := make([]PackDTO, len(credit.Packs))
	for i, p := range credit.Packs {
		dtos[i] = PackDTO{
			ID:             p.ID,
			Name:           p.Name,
			Credits:        p.Credits,
			Price:          p.Price.StringFixed(2),
			PricePerCredit: p.PricePerCredit().String(),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateCheckout creates a payment session for the selected pack.
func (h *Handler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	if h.Checkout == nil {
		writeError(w, http.StatusServiceUnavailable, "Paiement non configuré.", nil)
		return
	}

	acct, _ := AccountFromContext(r.Context())

	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Requête invalide.", err)
		return
	}
	if credit.PackByID(req.PackID) == nil {
		writeError(w, http.StatusBadRequest, "Pack invalide.", nil)
		return
	}

	url, err := h.Checkout.CreateSession(r.Context(), acct, req.PackID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Erreur lors de la création du paiement.", err)
		return
	}
	writeJSON(w, http.StatusOK, CheckoutResponse{URL: url})
}

// =============================================================================
// PAYMENT WEBHOOK
// =============================================================================

// HandleWebhook receives payment notifications from Stripe. No auth
// middleware: authenticity comes from the signature check. Duplicates
// must be acknowledged with 200 to stop redelivery.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if h.Webhook == nil {
		writeError(w, http.StatusServiceUnavailable, "Webhook non configuré.", nil)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Corps illisible.", err)
		return
	}

	outcome, credited, err := h.Webhook.Process(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		metricWebhookEvents.WithLabelValues("rejected").Inc()
		if errors.Is(err, credit.ErrStoreUnavailable) {
			// Commit is ambiguous; a 5xx makes Stripe redeliver, and the
			// settlement id makes that retry safe.
			writeError(w, http.StatusInternalServerError, "Erreur interne.", err)
			return
		}
		writeError(w, http.StatusBadRequest, "Signature invalide.", nil)
		return
	}

	metricWebhookEvents.WithLabelValues(string(outcome)).Inc()
	if outcome == payment.OutcomeCredited {
		metricCreditsPurchased.Add(float64(credited))
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// =============================================================================
// PRODUCTS
// =============================================================================

// Generate runs the generation workflow for a multipart form upload.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	acct, _ := AccountFromContext(r.Context())
	start := time.Now()

	input, err := parseGenerationForm(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	p, err := h.Generator.Generate(r.Context(), acct.ID, input)
	switch {
	case err == nil:
		metricGenerations.WithLabelValues("ok").Inc()
		metricGenerationSeconds.Observe(time.Since(start).Seconds())
		writeJSON(w, http.StatusCreated, toProductDTO(*p))
	case errors.Is(err, credit.ErrInsufficientCredits):
		metricGenerations.WithLabelValues("insufficient_credits").Inc()
		writeError(w, http.StatusPaymentRequired, "Crédits insuffisants.", nil)
	case errors.Is(err, product.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, product.ErrGenerationFailed):
		metricGenerations.WithLabelValues("failed").Inc()
		writeError(w, http.StatusBadGateway, "Erreur lors de la génération de la fiche produit.", err)
	default:
		metricGenerations.WithLabelValues("failed").Inc()
		writeError(w, http.StatusInternalServerError, "Erreur interne du serveur.", err)
	}
}

// ListProducts returns the account's products.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	acct, _ := AccountFromContext(r.Context())

	products, err := h.Products.ListProducts(r.Context(), acct.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Erreur interne du serveur.", err)
		return
	}

	dtos := make([]ProductDTO, len(products))
	for i, p := range products {
		dtos[i] = toProductDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetProduct returns one product.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	acct, _ := AccountFromContext(r.Context())

	p, err := h.Products.GetProduct(r.Context(), acct.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Erreur interne du serveur.", err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "Fiche introuvable.", nil)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(*p))
}

// DeleteProduct removes one product.
func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	acct, _ := AccountFromContext(r.Context())

	if err := h.Products.DeleteProduct(r.Context(), acct.ID, chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusInternalServerError, "Erreur interne du serveur.", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// ExportPDF renders the product sheet as a downloadable PDF.
func (h *Handler) ExportPDF(w http.ResponseWriter, r *http.Request) {
	acct, _ := AccountFromContext(r.Context())

	p, err := h.Products.GetProduct(r.Context(), acct.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Erreur interne du serveur.", err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "Fiche introuvable.", nil)
		return
	}

	data, err := product.RenderPDF(p)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Erreur lors de l'export PDF.", err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "fiche-"+p.ID+".pdf"))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// =============================================================================
// ADMIN
// =============================================================================

// AdminGrant adds bonus credits to a user. Authorization happens in the
// RequireAdmin middleware, not in the ledger.
func (h *Handler) AdminGrant(w http.ResponseWriter, r *http.Request) {
	var req AdminGrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Requête invalide.", err)
		return
	}
	if req.UserID == "" || req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "Paramètres invalides.", nil)
		return
	}

	accountID := credit.AccountID(req.UserID)
	description := fmt.Sprintf("Bonus admin (+%d crédits)", req.Amount)

	if _, err := h.Ledger.Grant(r.Context(), accountID, req.Amount, description); err != nil {
		if errors.Is(err, credit.ErrAccountNotFound) {
			writeError(w, http.StatusNotFound, "Utilisateur introuvable.", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Erreur interne du serveur.", err)
		return
	}
	metricCreditsGranted.Add(float64(req.Amount))

	balance, err := h.Ledger.Balance(r.Context(), accountID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Erreur interne du serveur.", err)
		return
	}
	writeJSON(w, http.StatusOK, AdminGrantResponse{Success: true, Credits: balance})
}

// AdminListUsers returns all accounts.
func (h *Handler) AdminListUsers(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Accounts.ListAccounts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Erreur interne du serveur.", err)
		return
	}

	dtos := make([]AccountDTO, len(accounts))
	for i, a := range accounts {
		dtos[i] = toAccountDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// AdminAudit verifies every account's cached balance against its ledger.
func (h *Handler) AdminAudit(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Accounts.ListAccounts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Erreur interne du serveur.", err)
		return
	}

	reports := make([]credit.AuditReport, 0, len(accounts))
	for _, a := range accounts {
		report, err := h.Ledger.Audit(r.Context(), a.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Erreur interne du serveur.", err)
			return
		}
		reports = append(reports, report)
	}
	writeJSON(w, http.StatusOK, reports)
}

// =============================================================================
// FORM PARSING / HELPERS
// =============================================================================

func parseGenerationForm(r *http.Request) (product.GenerationInput, error) {
	if err := r.ParseMultipartForm(4 * maxWebhookBody); err != nil {
		return product.GenerationInput{}, fmt.Errorf("formulaire invalide")
	}

	input := product.GenerationInput{
		Name:      r.FormValue("name"),
		Category:  r.FormValue("category"),
		Notes:     r.FormValue("notes"),
		Tone:      product.Tone(r.FormValue("tone")),
		PhotoURLs: r.MultipartForm.Value["photo_urls"],
	}

	if priceStr := r.FormValue("price"); priceStr != "" {
		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			return product.GenerationInput{}, fmt.Errorf("prix invalide")
		}
		input.Price = &price
	}

	for _, header := range r.MultipartForm.File["photos"] {
		photo, err := readPhoto(header)
		if err != nil {
			return product.GenerationInput{}, err
		}
		input.Photos = append(input.Photos, photo)
	}

	return input, nil
}

func readPhoto(header *multipart.FileHeader) (product.Photo, error) {
	file, err := header.Open()
	if err != nil {
		return product.Photo{}, fmt.Errorf("photo illisible")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, product.MaxPhotoSizeBytes+1))
	if err != nil {
		return product.Photo{}, fmt.Errorf("photo illisible")
	}
	return product.Photo{
		MediaType: header.Header.Get("Content-Type"),
		Data:      data,
	}, nil
}

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
