package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const sessionCookieName = "epackage_session"

type sessionIDKey struct{}

type authService struct {
	sessionSecret []byte
	adminToken    string
	cookieMaxAge  time.Duration
	secureCookies bool
}

func newAuthService(sessionSecret, adminToken string, maxAge time.Duration, secure bool) *authService {
	return &authService{
		sessionSecret: []byte(sessionSecret),
		adminToken:    adminToken,
		cookieMaxAge:  maxAge,
		secureCookies: secure,
	}
}

func (a *authService) createSessionValue(sessionID string) string {
	payload := base64.RawURLEncoding.EncodeToString([]byte(sessionID))
	mac := hmac.New(sha256.New, a.sessionSecret)
	_, _ = mac.Write([]byte(payload))
	signature := hex.EncodeToString(mac.Sum(nil))
	return payload + "." + signature
}

func (a *authService) verifySessionValue(value string) (string, bool) {
	parts := strings.Split(value, ".")
	if len(parts) != 2 {
		return "", false
	}

	payload := parts[0]
	signature := parts[1]

	mac := hmac.New(sha256.New, a.sessionSecret)
	_, _ = mac.Write([]byte(payload))
	expected := mac.Sum(nil)

	provided, err := hex.DecodeString(signature)
	if err != nil {
		return "", false
	}
	if !hmac.Equal(provided, expected) {
		return "", false
	}

	decoded, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return "", false
	}
	if _, err := uuid.Parse(string(decoded)); err != nil {
		return "", false
	}

	return string(decoded), true
}

func (a *authService) setSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    a.createSessionValue(sessionID),
		Path:     "/",
		MaxAge:   int(a.cookieMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   a.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// sessionMiddleware attaches the session id of the signed cookie to the
// request, issuing a new session when the cookie is missing or forged.
func (a *authService) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var sessionID string
		if cookie, err := r.Cookie(sessionCookieName); err == nil {
			sessionID, _ = a.verifySessionValue(cookie.Value)
		}
		if sessionID == "" {
			sessionID = uuid.NewString()
			a.setSessionCookie(w, sessionID)
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionIDKey{}, sessionID)))
	})
}

func sessionIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey{}).(string)
	return id
}

// adminMiddleware requires "Authorization: Bearer <ADMIN_TOKEN>". Without a
// configured token every admin request is refused.
func (a *authService) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if a.adminToken == "" || !ok || subtle.ConstantTimeCompare([]byte(token), []byte(a.adminToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
