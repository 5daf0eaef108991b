/*
workflow.go - Product sheet generation workflow

PURPOSE:
  Orchestrates one generation: debit a credit, call the vision model,
  persist the product. The ledger only guarantees atomicity of its own
  writes, so this workflow owns the cross-step compensation: when the
  vision call or the save fails after the credit was already spent, it
  issues a compensating refund grant.

ORDERING:
  The credit is consumed BEFORE the vision call. Insufficient credits
  must block the action before any costly downstream work is attempted;
  a failed consume never reaches the model.

COMPENSATION:
  consume ok, vision fails  -> refund grant, return error
  consume ok, save fails    -> refund grant, return error
  consume fails             -> stop, nothing to compensate

  A failed refund is logged loudly: the ledger is short one credit and
  the audit endpoint will show a consistent-but-unfair history. That is
  an operator problem, not something to hide behind a retry loop here.

SEE ALSO:
  - credit/ledger.go: Consume/Grant contracts
  - vision/: Anthropic implementation of VisionClient
*/
package product

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fichflow/fichflow/credit"
)

// =============================================================================
// VISION COLLABORATOR PORT
// =============================================================================

// Photo is one uploaded product image, ready for the vision model.
type Photo struct {
	MediaType string
	Data      []byte
}

// SheetRequest is everything the vision model needs for one generation.
type SheetRequest struct {
	Name     string
	Category string
	Price    *decimal.Decimal
	Notes    string
	Tone     Tone
	Photos   []Photo
}

// VisionClient is the opaque AI collaborator: photos plus prompt in,
// structured sheet out, fallible.
type VisionClient interface {
	GenerateSheet(ctx context.Context, req SheetRequest) (Sheet, error)
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrInvalidInput is returned for malformed generation requests.
	ErrInvalidInput = errors.New("invalid generation input")

	// ErrGenerationFailed is returned when the vision model call failed.
	// The consumed credit has been refunded.
	ErrGenerationFailed = errors.New("sheet generation failed")
)

// =============================================================================
// GENERATOR
// =============================================================================

// GenerationInput is one generation request from a merchant.
type GenerationInput struct {
	Name      string
	Category  string
	Price     *decimal.Decimal
	Notes     string
	Tone      Tone
	Photos    []Photo
	PhotoURLs []string // already uploaded to the external blob store
}

// Generator runs the generation workflow. Construct with NewGenerator;
// all collaborators are injected explicitly.
type Generator struct {
	ledger   *credit.Ledger
	vision   VisionClient
	products Store

	now   func() time.Time
	newID func() string
}

// NewGenerator creates a generation workflow over the given collaborators.
func NewGenerator(ledger *credit.Ledger, vision VisionClient, products Store) *Generator {
	return &Generator{
		ledger:   ledger,
		vision:   vision,
		products: products,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

// Generate runs one generation for the account: validate, consume one
// credit, call the vision model, persist the product.
func (g *Generator) Generate(ctx context.Context, accountID credit.AccountID, in GenerationInput) (*Product, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	if in.Tone == "" {
		in.Tone = ToneProfessionnel
	}

	// Debit first. On InsufficientCredits or a store failure nothing
	// costly has happened yet.
	if _, err := g.ledger.Consume(ctx, accountID, 1, "Génération fiche : "+in.Name); err != nil {
		return nil, err
	}

	sheet, err := g.vision.GenerateSheet(ctx, SheetRequest{
		Name:     in.Name,
		Category: in.Category,
		Price:    in.Price,
		Notes:    in.Notes,
		Tone:     in.Tone,
		Photos:   in.Photos,
	})
	if err != nil {
		g.refund(ctx, accountID)
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	now := g.now()
	p := Product{
		ID:        g.newID(),
		AccountID: accountID,
		Name:      in.Name,
		Category:  in.Category,
		Price:     in.Price,
		Notes:     in.Notes,
		Tone:      in.Tone,
		PhotoURLs: in.PhotoURLs,
		Sheet:     sheet,
		Status:    StatusCompleted,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := g.products.SaveProduct(ctx, p); err != nil {
		g.refund(ctx, accountID)
		return nil, err
	}

	return &p, nil
}

// refund is the compensating grant for a consume whose downstream work
// failed. Best effort: a refund failure is logged, never propagated over
// the original error.
func (g *Generator) refund(ctx context.Context, accountID credit.AccountID) {
	if _, err := g.ledger.Grant(ctx, accountID, 1, "Remboursement : génération échouée"); err != nil {
		log.Printf("ALERT: refund failed for account %s: %v", accountID, err)
	}
}

func validateInput(in GenerationInput) error {
	if in.Name == "" || in.Category == "" {
		return fmt.Errorf("%w: name and category are required", ErrInvalidInput)
	}
	if in.Tone != "" && !ValidTone(in.Tone) {
		return fmt.Errorf("%w: unknown tone %q", ErrInvalidInput, in.Tone)
	}
	if len(in.Photos) == 0 {
		return fmt.Errorf("%w: at least one photo is required", ErrInvalidInput)
	}
	if len(in.Photos) > MaxPhotosPerProduct {
		return fmt.Errorf("%w: at most %d photos", ErrInvalidInput, MaxPhotosPerProduct)
	}
	for _, photo := range in.Photos {
		if !AcceptedImageType(photo.MediaType) {
			return fmt.Errorf("%w: unsupported photo type %q", ErrInvalidInput, photo.MediaType)
		}
		if len(photo.Data) > MaxPhotoSizeBytes {
			return fmt.Errorf("%w: photo exceeds %d bytes", ErrInvalidInput, MaxPhotoSizeBytes)
		}
	}
	return nil
}
