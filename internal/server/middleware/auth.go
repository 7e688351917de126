package middleware

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/storeledger/internal/crypto"
	"github.com/alanyoungcy/storeledger/internal/domain"
)

// Request signature headers.
const (
	HeaderAddress   = "X-Ledger-Address"
	HeaderTimestamp = "X-Ledger-Timestamp"
	HeaderSignature = "X-Ledger-Signature"
)

const maxSignedBody = 1 << 20

type callerKey struct{}

// WithCaller returns a context carrying the authenticated caller.
func WithCaller(ctx context.Context, caller common.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom returns the caller recovered by SignatureAuth.
func CallerFrom(ctx context.Context) (common.Address, bool) {
	caller, ok := ctx.Value(callerKey{}).(common.Address)
	return caller, ok
}

// SignatureAuth returns middleware that authenticates mutating requests.
// The client signs crypto.RequestMessage(timestamp, method, path, body)
// with personal_sign and sends the address, unix timestamp and signature in
// the X-Ledger-* headers. The recovered address becomes the caller of the
// ledger operation. Safe methods pass through unauthenticated.
//
// A non-nil guard admits each signed request once: the request digest is
// claimed for twice maxSkew, the span in which its timestamp stays
// acceptable. A second submission gets 401, and a guard error gets 503.
func SignatureAuth(maxSkew time.Duration, guard domain.ReplayGuard, now func() time.Time) func(http.Handler) http.Handler {
	if now == nil {
		now = time.Now
	}
	claimTTL := 2 * maxSkew
	if maxSkew <= 0 {
		claimTTL = 0
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			addr := r.Header.Get(HeaderAddress)
			ts := r.Header.Get(HeaderTimestamp)
			sig := r.Header.Get(HeaderSignature)
			if addr == "" || ts == "" || sig == "" {
				writeUnauthorized(w, "missing signature headers")
				return
			}
			if !common.IsHexAddress(addr) {
				writeUnauthorized(w, "invalid address header")
				return
			}
			unix, err := strconv.ParseInt(ts, 10, 64)
			if err != nil {
				writeUnauthorized(w, "invalid timestamp header")
				return
			}
			skew := now().Sub(time.Unix(unix, 0))
			if skew < 0 {
				skew = -skew
			}
			if maxSkew > 0 && skew > maxSkew {
				writeUnauthorized(w, "timestamp outside allowed window")
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody))
			if err != nil {
				writeUnauthorized(w, "unreadable body")
				return
			}
			_ = r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))

			caller, err := crypto.RecoverCaller(sig, ts, r.Method, r.URL.Path, body)
			if err != nil {
				writeUnauthorized(w, "invalid signature")
				return
			}
			if caller != common.HexToAddress(addr) {
				writeUnauthorized(w, "signature does not match address")
				return
			}

			if guard != nil {
				digest := crypto.RequestDigest(ts, r.Method, r.URL.Path, body)
				fresh, err := guard.Claim(r.Context(), replayKey(caller, digest), claimTTL)
				if err != nil {
					writeJSONError(w, http.StatusServiceUnavailable, "replay check unavailable")
					return
				}
				if !fresh {
					writeUnauthorized(w, "request already submitted")
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

// replayKey identifies a signed request by caller and message digest.
func replayKey(caller common.Address, digest common.Hash) string {
	return "sig:" + strings.ToLower(caller.Hex()) + ":" + digest.Hex()
}

// writeUnauthorized sends a 401 response with a JSON error body.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	writeJSONError(w, http.StatusUnauthorized, msg)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
