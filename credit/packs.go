/*
packs.go - Credit pack catalog

PURPOSE:
  The fixed catalog of credit packs a merchant can buy. Prices are in
  euros and use decimal arithmetic; each pack maps to a payment-processor
  price id resolved from configuration at checkout time.

SEE ALSO:
  - payment/checkout.go: Turns a pack into a checkout session
*/
package credit

import "github.com/shopspring/decimal"

// FreeCredits is the signup bonus granted on first authentication.
const FreeCredits = 3

// Pack is one purchasable bundle of credits.
type Pack struct {
	ID      string
	Name    string
	Credits int64
	Price   decimal.Decimal // euros, VAT included
}

// Packs is the catalog, cheapest first.
var Packs = []Pack{
	{ID: "pack_10", Name: "Découverte", Credits: 10, Price: decimal.RequireFromString("4.90")},
	{ID: "pack_50", Name: "Standard", Credits: 50, Price: decimal.RequireFromString("14.90")},
	{ID: "pack_150", Name: "Pro", Credits: 150, Price: decimal.RequireFromString("29.90")},
	{ID: "pack_300", Name: "Business", Credits: 300, Price: decimal.RequireFromString("49.90")},
}

// PackByID returns the pack with the given id, or nil if unknown.
func PackByID(id string) *Pack {
	for i := range Packs {
		if Packs[i].ID == id {
			return &Packs[i]
		}
	}
	return nil
}

// PricePerCredit returns the unit price of the pack.
func (p Pack) PricePerCredit() decimal.Decimal {
	return p.Price.Div(decimal.NewFromInt(p.Credits)).Round(3)
}
