/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for API communication, decoupling the domain model
  from the external contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
*/
package api

import (
	"time"

	"github.com/fichflow/fichflow/credit"
	"github.com/fichflow/fichflow/product"
)

// =============================================================================
// ACCOUNTS / CREDITS
// =============================================================================

// AccountDTO represents the authenticated account.
type AccountDTO struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	Role      string `json:"role"`
	Credits   int64  `json:"credits"`
	CreatedAt string `json:"created_at"`
}

func toAccountDTO(a credit.Account) AccountDTO {
	return AccountDTO{
		ID:        string(a.ID),
		Email:     a.Email,
		Name:      a.Name,
		Role:      string(a.Role),
		Credits:   a.Balance,
		CreatedAt: a.CreatedAt.Format(time.RFC3339),
	}
}

// TransactionDTO represents one ledger entry.
type TransactionDTO struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
	CreatedAt   string `json:"created_at"`
}

func toTransactionDTO(tx credit.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:          string(tx.ID),
		Kind:        string(tx.Kind),
		Amount:      tx.Amount,
		Description: tx.Description,
		CreatedAt:   tx.CreatedAt.Format(time.RFC3339),
	}
}

// PackDTO represents one purchasable credit pack.
type PackDTO struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Credits        int64  `json:"credits"`
	Price          string `json:"price"`
	PricePerCredit string `json:"price_per_credit"`
}

// CheckoutRequest selects the pack to buy.
type CheckoutRequest struct {
	PackID string `json:"pack_id"`
}

// CheckoutResponse carries the hosted payment page URL.
type CheckoutResponse struct {
	URL string `json:"url"`
}

// AdminGrantRequest is the admin bonus payload.
type AdminGrantRequest struct {
	UserID string `json:"user_id"`
	Amount int64  `json:"amount"`
}

// AdminGrantResponse reports the new balance.
type AdminGrantResponse struct {
	Success bool  `json:"success"`
	Credits int64 `json:"credits"`
}

// =============================================================================
// PRODUCTS
// =============================================================================

// ProductDTO represents a product and its generated sheet.
type ProductDTO struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Category        string            `json:"category"`
	Price           string            `json:"price,omitempty"`
	Notes           string            `json:"notes,omitempty"`
	Tone            string            `json:"tone"`
	PhotoURLs       []string          `json:"photo_urls"`
	Title           string            `json:"title"`
	Description     string            `json:"description"`
	Characteristics map[string]string `json:"characteristics"`
	Attributes      map[string]string `json:"attributes"`
	Status          string            `json:"status"`
	CreatedAt       string            `json:"created_at"`
}

func toProductDTO(p product.Product) ProductDTO {
	dto := ProductDTO{
		ID:              p.ID,
		Name:            p.Name,
		Category:        p.Category,
		Notes:           p.Notes,
		Tone:            string(p.Tone),
		PhotoURLs:       p.PhotoURLs,
		Title:           p.Sheet.Title,
		Description:     p.Sheet.Description,
		Characteristics: p.Sheet.Characteristics,
		Attributes:      p.Sheet.Attributes,
		Status:          string(p.Status),
		CreatedAt:       p.CreatedAt.Format(time.RFC3339),
	}
	if p.Price != nil {
		dto.Price = p.Price.String()
	}
	return dto
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
