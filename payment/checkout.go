/*
checkout.go - Stripe Checkout session creation for credit packs

PURPOSE:
  Turns a credit pack selection into a hosted Stripe Checkout session.
  The session metadata carries user_id, pack_id and credits; the webhook
  processor reads them back when the payment confirmation arrives, so no
  state needs to be stored between checkout and settlement.

CONSTRUCTION:
  The Stripe API client is injected at startup (no lazy global key), per
  the process-wide client lifecycle owned by cmd/server.

SEE ALSO:
  - webhook.go: Consumes the session metadata on payment confirmation
  - credit/packs.go: The pack catalog
*/
package payment

import (
	"context"
	"fmt"
	"strconv"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"

	"github.com/fichflow/fichflow/credit"
)

// CheckoutConfig maps packs to Stripe price ids and holds redirect URLs.
type CheckoutConfig struct {
	PriceIDs map[string]string // pack id -> stripe price id
	AppURL   string            // e.g. https://fichflow.example
}

// Checkout creates Stripe Checkout sessions for credit packs.
type Checkout struct {
	api *client.API
	cfg CheckoutConfig
}

// NewCheckout creates a checkout service over an initialized Stripe client.
func NewCheckout(api *client.API, cfg CheckoutConfig) *Checkout {
	return &Checkout{api: api, cfg: cfg}
}

// NewStripeClient initializes a Stripe API client with the given secret key.
func NewStripeClient(secretKey string) *client.API {
	api := &client.API{}
	api.Init(secretKey, nil)
	return api
}

// CreateSession creates a Checkout session for the pack and returns the
// hosted payment page URL the merchant should be redirected to.
func (c *Checkout) CreateSession(ctx context.Context, acct credit.Account, packID string) (string, error) {
	pack := credit.PackByID(packID)
	if pack == nil {
		return "", fmt.Errorf("unknown credit pack %q", packID)
	}

	priceID := c.cfg.PriceIDs[pack.ID]
	if priceID == "" {
		return "", fmt.Errorf("no stripe price configured for pack %q", pack.ID)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(priceID), Quantity: stripe.Int64(1)},
		},
		SuccessURL:    stripe.String(fmt.Sprintf("%s/credits/succes?credits=%d", c.cfg.AppURL, pack.Credits)),
		CancelURL:     stripe.String(c.cfg.AppURL + "/credits/annule"),
		CustomerEmail: stripe.String(acct.Email),
	}
	params.Context = ctx
	params.AddMetadata("user_id", string(acct.ID))
	params.AddMetadata("pack_id", pack.ID)
	params.AddMetadata("credits", strconv.FormatInt(pack.Credits, 10))

	session, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}
	return session.URL, nil
}
