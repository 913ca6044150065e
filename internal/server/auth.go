package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"time"

	"rwa/util"
)

const DefaultAllowedSkew = 5 * time.Minute

// maxSignedBody caps how much of a request body is read for signing.
const maxSignedBody = 1 << 20

type ctxKey int

const keyIDKey ctxKey = iota

// ParseSkew reads ALLOWED_SKEW_MINUTES. Zero or a negative value disables the
// timestamp check for local development.
func ParseSkew() time.Duration {
	minutes := util.EnvInt("ALLOWED_SKEW_MINUTES", int(DefaultAllowedSkew/time.Minute))
	if minutes <= 0 {
		return 0
	}
	return time.Duration(minutes) * time.Minute
}

// Sign returns the X-Signature value for a request sent at ts with body.
func Sign(secret []byte, ts string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func verifyHMAC(r *http.Request, secret []byte, skew time.Duration, body []byte) bool {
	sig := r.Header.Get("X-Signature")
	ts := r.Header.Get("X-Timestamp")

	tsInt, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}

	if skew != 0 {
		t := time.Unix(tsInt, 0)
		now := time.Now()
		if t.Before(now.Add(-skew)) || t.After(now.Add(skew)) {
			return false // stale or future request
		}
	}

	return hmac.Equal([]byte(sig), []byte(Sign(secret, ts, body)))
}

/*
Middleware factory is used to pass in the secret auth keys. The signature
covers the timestamp and the raw body, so a captured request cannot be
replayed with a different payload.
*/
func AuthMiddleware(secrets map[string][]byte, skew time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			keyID := r.Header.Get("X-Key-ID")
			secret, ok := secrets[keyID]
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody))
			if err != nil {
				http.Error(w, "could not read body", http.StatusBadRequest)
				return
			}
			r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))

			if !verifyHMAC(r, secret, skew, body) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), keyIDKey, keyID)))
		})
	}
}

// KeyID returns the API key id that authenticated the request, if any.
func KeyID(ctx context.Context) string {
	id, _ := ctx.Value(keyIDKey).(string)
	return id
}
