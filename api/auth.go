/*
auth.go - Bearer token authentication and account sync

PURPOSE:
  Authentication itself is delegated to the external identity provider;
  what arrives here is its signed JWT. The middleware verifies the HS256
  signature, loads or creates the local account for the token subject,
  and grants the signup bonus exactly once on first touch.

FIRST-TOUCH CREATION:
  The account row is created with balance 0, then the welcome credits
  arrive through a normal BONUS ledger grant. The balance is never
  seeded directly, so the balance/history invariant holds from the very
  first transaction.

ADMIN BOOTSTRAP:
  Role is computed from the configured admin email list on every login
  and synced to the account row. The ledger itself never checks roles;
  authorization is the caller's job.

SEE ALSO:
  - handlers.go: Handlers reading the account from the request context
*/
package api

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fichflow/fichflow/credit"
)

type contextKey string

const accountKey contextKey = "account"

// AccountFromContext returns the authenticated account, if any.
func AccountFromContext(ctx context.Context) (credit.Account, bool) {
	acct, ok := ctx.Value(accountKey).(credit.Account)
	return acct, ok
}

// RequireAuth verifies the bearer token and syncs the local account.
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "Non authentifié.", nil)
			return
		}

		claims, err := h.parseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Jeton invalide.", nil)
			return
		}

		acct, err := h.syncAccount(r.Context(), claims)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Erreur interne du serveur.", err)
			return
		}

		ctx := context.WithValue(r.Context(), accountKey, acct)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin rejects non-admin accounts. Must run after RequireAuth.
func (h *Handler) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		acct, ok := AccountFromContext(r.Context())
		if !ok || !acct.IsAdmin() {
			writeError(w, http.StatusForbidden, "Accès refusé.", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type identityClaims struct {
	Subject string
	Email   string
	Name    string
}

func (h *Handler) parseToken(tokenStr string) (identityClaims, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		return []byte(h.JWTSecret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return identityClaims{}, err
	}

	sub, _ := claims["sub"].(string)
	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)
	if sub == "" {
		return identityClaims{}, jwt.ErrTokenInvalidClaims
	}
	return identityClaims{Subject: sub, Email: email, Name: name}, nil
}

// syncAccount upserts the local account for the token subject and
// grants the signup bonus on first touch.
func (h *Handler) syncAccount(ctx context.Context, claims identityClaims) (credit.Account, error) {
	role := credit.RoleUser
	if h.IsAdminEmail != nil && h.IsAdminEmail(claims.Email) {
		role = credit.RoleAdmin
	}

	acct, created, err := h.Accounts.SyncAccount(ctx, credit.Account{
		ID:    credit.AccountID(claims.Subject),
		Email: claims.Email,
		Name:  claims.Name,
		Role:  role,
	})
	if err != nil {
		return credit.Account{}, err
	}

	if created {
		if _, err := h.Ledger.Grant(ctx, acct.ID, credit.FreeCredits, "Crédits offerts à l'inscription"); err != nil {
			// The account exists but got no welcome credits; surface the
			// failure rather than leaving a silent empty balance.
			return credit.Account{}, err
		}
		metricCreditsGranted.Add(float64(credit.FreeCredits))
		acct.Balance += credit.FreeCredits
		log.Printf("auth: new account %s, granted %d welcome credits", acct.ID, credit.FreeCredits)
	}

	return acct, nil
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
