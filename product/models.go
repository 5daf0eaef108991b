/*
models.go - Product sheet data model

PURPOSE:
  A Product is one uploaded item plus the AI-generated sheet for it:
  title, description, buyer-facing characteristics, and raw technical
  attributes extracted from the photos.

LIFECYCLE:
  Created COMPLETED by the generation workflow (the sheet is generated
  before the row is written). FAILED rows exist only when persistence of
  a generated sheet succeeded but a later regeneration attempt did not.

SEE ALSO:
  - workflow.go: Generation workflow (consume credit -> vision -> save)
  - pdf.go: PDF export of a completed sheet
*/
package product

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fichflow/fichflow/credit"
)

// =============================================================================
// ENUMS
// =============================================================================

// Status tracks the generation outcome persisted with the product.
type Status string

const (
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Tone selects the writing style of the generated sheet.
type Tone string

const (
	ToneProfessionnel Tone = "PROFESSIONNEL"
	ToneSensuel       Tone = "SENSUEL"
	ToneDecontracte   Tone = "DECONTRACTE"
	ToneLuxe          Tone = "LUXE"
	TonePersonnalise  Tone = "PERSONNALISE"
)

// ValidTone reports whether t is a known tone.
func ValidTone(t Tone) bool {
	switch t {
	case ToneProfessionnel, ToneSensuel, ToneDecontracte, ToneLuxe, TonePersonnalise:
		return true
	}
	return false
}

// Photo upload limits.
const (
	MaxPhotosPerProduct = 3
	MaxPhotoSizeBytes   = 5 * 1024 * 1024
)

// AcceptedImageTypes are the photo media types the vision model accepts.
var AcceptedImageTypes = []string{"image/jpeg", "image/png", "image/webp"}

// AcceptedImageType reports whether mediaType may be uploaded.
func AcceptedImageType(mediaType string) bool {
	for _, t := range AcceptedImageTypes {
		if t == mediaType {
			return true
		}
	}
	return false
}

// =============================================================================
// ENTITIES
// =============================================================================

// Sheet is the structured output of the vision model.
type Sheet struct {
	Title           string            `json:"title"`
	Description     string            `json:"description"`
	Characteristics map[string]string `json:"characteristics"`
	Attributes      map[string]string `json:"attributes"`
}

// Product is an uploaded item and its generated sheet.
type Product struct {
	ID        string
	AccountID credit.AccountID
	Name      string
	Category  string
	Price     *decimal.Decimal // optional, euros
	Notes     string
	Tone      Tone
	PhotoURLs []string
	Sheet     Sheet
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// PERSISTENCE PORT
// =============================================================================

// Store persists products. Implemented by store/sqlite.
type Store interface {
	SaveProduct(ctx context.Context, p Product) error
	GetProduct(ctx context.Context, accountID credit.AccountID, id string) (*Product, error)
	ListProducts(ctx context.Context, accountID credit.AccountID) ([]Product, error)
	DeleteProduct(ctx context.Context, accountID credit.AccountID, id string) error
}
