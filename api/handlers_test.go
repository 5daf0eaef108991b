/*
handlers_test.go - End-to-end tests over the HTTP surface

Requests go through the real router, middleware and handlers against an
in-memory store; only the vision model and Stripe's delivery are faked.
*/
package api_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v74"

	"github.com/fichflow/fichflow/api"
	"github.com/fichflow/fichflow/credit"
	"github.com/fichflow/fichflow/payment"
	"github.com/fichflow/fichflow/product"
	"github.com/fichflow/fichflow/store/memory"
)

const (
	testJWTSecret     = "test-jwt-secret"
	testWebhookSecret = "whsec_test"
	adminEmail        = "ops@fichflow.example"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type fakeVision struct {
	err error
}

func (f *fakeVision) GenerateSheet(context.Context, product.SheetRequest) (product.Sheet, error) {
	if f.err != nil {
		return product.Sheet{}, f.err
	}
	return product.Sheet{
		Title:       "Bougie artisanale à la cire de soja",
		Description: "Coulée à la main.",
	}, nil
}

type testAPI struct {
	router http.Handler
	store  *memory.Memory
	vision *fakeVision
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	store := memory.NewMemory()
	ledger := credit.NewLedger(store)
	vision := &fakeVision{}

	handler := api.NewHandler(api.Deps{
		Accounts:  store,
		Products:  store,
		Ledger:    ledger,
		Generator: product.NewGenerator(ledger, vision, store),
		Webhook:   payment.NewWebhookProcessor(testWebhookSecret, ledger, nil),
		JWTSecret: testJWTSecret,
		IsAdminEmail: func(email string) bool {
			return email == adminEmail
		},
	})

	return &testAPI{
		router: api.NewRouter(handler, nil),
		store:  store,
		vision: vision,
	}
}

func makeToken(t *testing.T, secret, sub, email, name string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   sub,
		"email": email,
		"name":  name,
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func (a *testAPI) do(t *testing.T, method, path, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

func generateForm(t *testing.T) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("name", "Bougie artisanale"))
	require.NoError(t, w.WriteField("category", "Maison"))
	require.NoError(t, w.WriteField("tone", "LUXE"))
	require.NoError(t, w.WriteField("price", "24.90"))
	require.NoError(t, w.WriteField("photo_urls", "https://blob.example/p1.jpg"))

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="photos"; filename="p1.jpg"`)
	header.Set("Content-Type", "image/jpeg")
	part, err := w.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write([]byte("fake-jpeg-bytes"))
	require.NoError(t, err)

	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

// =============================================================================
// AUTHENTICATION AND SIGNUP BONUS
// =============================================================================

func TestMe_FirstTouchGrantsWelcomeCredits(t *testing.T) {
	a := newTestAPI(t)
	token := makeToken(t, testJWTSecret, "u1", "u1@example.com", "Léa")

	rec := a.do(t, http.MethodGet, "/api/me", token, nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	me := decode[api.AccountDTO](t, rec)
	assert.Equal(t, "u1", me.ID)
	assert.Equal(t, "USER", me.Role)
	assert.Equal(t, int64(credit.FreeCredits), me.Credits)

	// Second login does not grant again.
	rec = a.do(t, http.MethodGet, "/api/me", token, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(credit.FreeCredits), decode[api.AccountDTO](t, rec).Credits)

	// And the bonus is a real ledger entry, not a seeded balance.
	rec = a.do(t, http.MethodGet, "/api/credits/transactions", token, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	txs := decode[[]api.TransactionDTO](t, rec)
	require.Len(t, txs, 1)
	assert.Equal(t, "BONUS", txs[0].Kind)
	assert.Equal(t, "Crédits offerts à l'inscription", txs[0].Description)
}

func TestAuth_RejectsMissingOrForgedTokens(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodGet, "/api/me", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/me", "garbage", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	forged := makeToken(t, "other-secret", "u1", "u1@example.com", "")
	rec = a.do(t, http.MethodGet, "/api/me", forged, nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// =============================================================================
// PACKS AND ADMIN
// =============================================================================

func TestListPacks(t *testing.T) {
	a := newTestAPI(t)
	token := makeToken(t, testJWTSecret, "u1", "u1@example.com", "")

	rec := a.do(t, http.MethodGet, "/api/credits/packs", token, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	packs := decode[[]api.PackDTO](t, rec)
	require.Len(t, packs, 4)
	assert.Equal(t, "pack_10", packs[0].ID)
	assert.Equal(t, "4.90", packs[0].Price)
}

func TestAdmin_RoleEnforcementAndGrant(t *testing.T) {
	a := newTestAPI(t)
	userToken := makeToken(t, testJWTSecret, "u1", "u1@example.com", "")
	adminToken := makeToken(t, testJWTSecret, "admin1", adminEmail, "Ops")

	// Create both accounts.
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/me", userToken, nil, "").Code)
	rec := a.do(t, http.MethodGet, "/api/me", adminToken, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ADMIN", decode[api.AccountDTO](t, rec).Role)

	// A regular user is locked out of admin routes.
	rec = a.do(t, http.MethodGet, "/api/admin/users", userToken, nil, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// The admin grants a bonus.
	body := bytes.NewBufferString(`{"user_id": "u1", "amount": 5}`)
	rec = a.do(t, http.MethodPost, "/api/admin/credits", adminToken, body, "application/json")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	grant := decode[api.AdminGrantResponse](t, rec)
	assert.True(t, grant.Success)
	assert.Equal(t, int64(credit.FreeCredits+5), grant.Credits)

	// Unknown target and bad amounts are rejected.
	rec = a.do(t, http.MethodPost, "/api/admin/credits", adminToken,
		bytes.NewBufferString(`{"user_id": "ghost", "amount": 5}`), "application/json")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/admin/credits", adminToken,
		bytes.NewBufferString(`{"user_id": "u1", "amount": 0}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdmin_AuditReportsConsistency(t *testing.T) {
	a := newTestAPI(t)
	userToken := makeToken(t, testJWTSecret, "u1", "u1@example.com", "")
	adminToken := makeToken(t, testJWTSecret, "admin1", adminEmail, "")

	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/me", userToken, nil, "").Code)
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/me", adminToken, nil, "").Code)

	rec := a.do(t, http.MethodGet, "/api/admin/audit", adminToken, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	reports := decode[[]credit.AuditReport](t, rec)
	require.Len(t, reports, 2)
	for _, report := range reports {
		assert.True(t, report.Consistent, "account %s", report.AccountID)
	}
}

// =============================================================================
// GENERATION
// =============================================================================

func TestGenerate_FullFlowThenInsufficientCredits(t *testing.T) {
	a := newTestAPI(t)
	token := makeToken(t, testJWTSecret, "u1", "u1@example.com", "")
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/me", token, nil, "").Code)

	// The welcome pack funds exactly three generations.
	var lastID string
	for i := 0; i < credit.FreeCredits; i++ {
		body, contentType := generateForm(t)
		rec := a.do(t, http.MethodPost, "/api/products/generate", token, body, contentType)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		p := decode[api.ProductDTO](t, rec)
		assert.Equal(t, "Bougie artisanale à la cire de soja", p.Title)
		assert.Equal(t, "COMPLETED", p.Status)
		lastID = p.ID
	}

	// The fourth one hits the paywall.
	body, contentType := generateForm(t)
	rec := a.do(t, http.MethodPost, "/api/products/generate", token, body, contentType)
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, "Crédits insuffisants.", decode[api.ErrorResponse](t, rec).Error)

	// Products are listed, retrievable and exportable.
	rec = a.do(t, http.MethodGet, "/api/products", token, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]api.ProductDTO](t, rec), 3)

	rec = a.do(t, http.MethodGet, "/api/products/"+lastID+"/pdf", token, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, "%PDF-", rec.Body.String()[:5])

	rec = a.do(t, http.MethodDelete, "/api/products/"+lastID, token, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = a.do(t, http.MethodGet, "/api/products/"+lastID, token, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGenerate_ModelFailureRefundsAndReturns502(t *testing.T) {
	a := newTestAPI(t)
	a.vision.err = fmt.Errorf("model overloaded")
	token := makeToken(t, testJWTSecret, "u1", "u1@example.com", "")
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/me", token, nil, "").Code)

	body, contentType := generateForm(t)
	rec := a.do(t, http.MethodPost, "/api/products/generate", token, body, contentType)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	// The credit came back.
	rec = a.do(t, http.MethodGet, "/api/me", token, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(credit.FreeCredits), decode[api.AccountDTO](t, rec).Credits)
}

func TestGenerate_InvalidFormIs400(t *testing.T) {
	a := newTestAPI(t)
	token := makeToken(t, testJWTSecret, "u1", "u1@example.com", "")

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("name", "Sans photo"))
	require.NoError(t, w.WriteField("category", "Maison"))
	require.NoError(t, w.Close())

	rec := a.do(t, http.MethodPost, "/api/products/generate", token, &buf, w.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// WEBHOOK
// =============================================================================

func webhookHeader(payload []byte, secret string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestWebhook_CreditsOnceAcrossRedeliveries(t *testing.T) {
	a := newTestAPI(t)
	token := makeToken(t, testJWTSecret, "u1", "u1@example.com", "")
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/me", token, nil, "").Code)

	payload := []byte(fmt.Sprintf(`{
		"id": "evt_1",
		"api_version": %q,
		"type": "checkout.session.completed",
		"data": {
			"object": {
				"id": "cs_1",
				"metadata": {"user_id": "u1", "pack_id": "pack_10", "credits": "10"}
			}
		}
	}`, stripe.APIVersion))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", bytes.NewReader(payload))
		req.Header.Set("Stripe-Signature", webhookHeader(payload, testWebhookSecret))
		rec := httptest.NewRecorder()
		a.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, "delivery %d must be acknowledged", i+1)
	}

	rec := a.do(t, http.MethodGet, "/api/me", token, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(credit.FreeCredits+10), decode[api.AccountDTO](t, rec).Credits)
}

func TestWebhook_BadSignatureIs400(t *testing.T) {
	a := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", bytes.NewBufferString(`{}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
