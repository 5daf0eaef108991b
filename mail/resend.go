/*
Package mail sends transactional email through the Resend HTTP API.

PURPOSE:
  One implementation of payment.Notifier. Delivery is best effort:
  failures are logged and swallowed, never propagated, because a missed
  confirmation email must not fail or retry a committed settlement.
*/
package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/fichflow/fichflow/payment"
)

const defaultBaseURL = "https://api.resend.com"

// Config configures the Resend sender.
type Config struct {
	APIKey  string
	From    string // e.g. "FichFlow <no-reply@fichflow.example>"
	BaseURL string
}

// Sender sends emails via Resend.
type Sender struct {
	cfg  Config
	http *http.Client
}

var _ payment.Notifier = (*Sender)(nil)

// NewSender creates a Resend sender.
func NewSender(cfg Config) *Sender {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	return &Sender{
		cfg:  cfg,
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

type sendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
}

// PurchaseConfirmed sends the purchase confirmation. Fire and forget.
func (s *Sender) PurchaseConfirmed(ctx context.Context, email string, credits int64) {
	subject := "Votre achat de crédits FichFlow"
	text := fmt.Sprintf(
		"Merci pour votre achat !\n\n%d crédits ont été ajoutés à votre compte FichFlow.\nIls sont disponibles dès maintenant pour générer vos fiches produit.",
		credits)

	if err := s.send(ctx, email, subject, text); err != nil {
		log.Printf("mail: failed to send purchase confirmation to %s: %v", email, err)
	}
}

func (s *Sender) send(ctx context.Context, to, subject, text string) error {
	body, err := json.Marshal(sendRequest{
		From:    s.cfg.From,
		To:      []string{to},
		Subject: subject,
		Text:    text,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("resend api returned %d", resp.StatusCode)
	}
	return nil
}
