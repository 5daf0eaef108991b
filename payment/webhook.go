/*
webhook.go - Payment notification handler

PURPOSE:
  Processes Stripe's asynchronous payment-confirmed notifications and
  turns them into ledger settlements. Stripe delivers webhooks at least
  once; the settlement's idempotency key (the checkout session id) is
  what makes redelivery harmless.

PROCESSING RULES:
  1. Verify the signature before trusting anything in the payload.
  2. Only checkout.session.completed is settled; other event types are
     acknowledged and ignored.
  3. A replayed session id is a successful no-op (OutcomeDuplicate).
     The HTTP layer must still answer 200, otherwise Stripe keeps
     redelivering forever.
  4. The confirmation email is fire-and-forget, sent only after the
     settlement committed, and never fails or retries the settlement.

SEE ALSO:
  - credit/ledger.go: SettlePurchase idempotency contract
  - api/handlers.go: HTTP endpoint wrapping this processor
*/
package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"

	"github.com/fichflow/fichflow/credit"
)

// =============================================================================
// NOTIFICATION PORT
// =============================================================================

// Notifier sends the best-effort purchase confirmation. Implementations
// must not block settlement on failure.
type Notifier interface {
	PurchaseConfirmed(ctx context.Context, email string, credits int64)
}

// NopNotifier is used when no email provider is configured.
type NopNotifier struct{}

func (NopNotifier) PurchaseConfirmed(context.Context, string, int64) {}

// =============================================================================
// OUTCOMES
// =============================================================================

// Outcome reports what a webhook delivery did.
type Outcome string

const (
	// OutcomeIgnored: event type we don't handle, or unusable metadata.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeCredited: first delivery, account credited.
	OutcomeCredited Outcome = "credited"
	// OutcomeDuplicate: redelivery, nothing changed.
	OutcomeDuplicate Outcome = "duplicate"
)

// =============================================================================
// PROCESSOR
// =============================================================================

// WebhookProcessor verifies and settles payment notifications.
type WebhookProcessor struct {
	secret   string
	ledger   *credit.Ledger
	notifier Notifier
}

// NewWebhookProcessor creates a processor with the endpoint signing secret.
func NewWebhookProcessor(secret string, ledger *credit.Ledger, notifier Notifier) *WebhookProcessor {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &WebhookProcessor{secret: secret, ledger: ledger, notifier: notifier}
}

// Process verifies the payload signature and settles the purchase it
// describes. The returned count is the number of credits credited,
// zero unless the outcome is OutcomeCredited. An error means the
// delivery should be rejected (bad signature or a store failure worth
// a retry); OutcomeDuplicate and OutcomeIgnored are both successes.
func (p *WebhookProcessor) Process(ctx context.Context, payload []byte, signature string) (Outcome, int64, error) {
	event, err := webhook.ConstructEvent(payload, signature, p.secret)
	if err != nil {
		return OutcomeIgnored, 0, fmt.Errorf("invalid webhook signature: %w", err)
	}

	if event.Type != "checkout.session.completed" {
		return OutcomeIgnored, 0, nil
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return OutcomeIgnored, 0, fmt.Errorf("malformed checkout session payload: %w", err)
	}

	userID := session.Metadata["user_id"]
	packID := session.Metadata["pack_id"]
	creditCount, _ := strconv.ParseInt(session.Metadata["credits"], 10, 64)

	if userID == "" || creditCount <= 0 {
		// Not one of our sessions. Acknowledge so Stripe stops retrying.
		log.Printf("webhook: session %s has unusable metadata, ignoring", session.ID)
		return OutcomeIgnored, 0, nil
	}

	description := fmt.Sprintf("Achat pack %s — %d crédits", packID, creditCount)
	_, applied, err := p.ledger.SettlePurchase(ctx, credit.AccountID(userID), creditCount, description, session.ID)
	if err != nil {
		// Ambiguous or failed commit. Reject the delivery; the session id
		// makes Stripe's retry safe.
		return OutcomeIgnored, 0, fmt.Errorf("settlement failed for session %s: %w", session.ID, err)
	}
	if !applied {
		log.Printf("webhook: duplicate delivery for session %s, already settled", session.ID)
		return OutcomeDuplicate, 0, nil
	}

	log.Printf("webhook: credited %d credits to %s (session %s)", creditCount, userID, session.ID)

	if email := sessionEmail(&session); email != "" {
		p.notifier.PurchaseConfirmed(ctx, email, creditCount)
	}
	return OutcomeCredited, creditCount, nil
}

func sessionEmail(s *stripe.CheckoutSession) string {
	if s.CustomerDetails != nil && s.CustomerDetails.Email != "" {
		return s.CustomerDetails.Email
	}
	return s.CustomerEmail
}
