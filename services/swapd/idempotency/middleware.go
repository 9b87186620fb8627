package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// HeaderKey is the request header carrying the client's idempotency key.
const HeaderKey = "Idempotency-Key"

const (
	maxKeyLength = 128
	maxBodyBytes = 1 << 20
)

// Replayer caches successful responses of mutating requests so a retried
// submission returns the original outcome instead of settling twice.
type Replayer struct {
	store    *Store
	ttl      time.Duration
	now      func() time.Time
	identify func(*http.Request) string

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// NewReplayer wraps store. identify returns the caller scope a key belongs
// to; keys from different callers never collide.
func NewReplayer(store *Store, ttl time.Duration, identify func(*http.Request) string) *Replayer {
	if identify == nil {
		identify = func(*http.Request) string { return "" }
	}
	return &Replayer{
		store:    store,
		ttl:      ttl,
		now:      time.Now,
		identify: identify,
		inflight: make(map[string]struct{}),
	}
}

// WithClock overrides the clock used for expiry.
func (p *Replayer) WithClock(clock func() time.Time) {
	if p != nil && clock != nil {
		p.now = clock
	}
}

// Purge removes expired records.
func (p *Replayer) Purge() (int, error) {
	if p == nil || p.store == nil {
		return 0, nil
	}
	return p.store.Purge(p.now())
}

// Middleware replays cached responses for repeated keys. Requests without a
// key pass through untouched. Reusing a key with a different body is
// rejected with 422, and a duplicate arriving while the first submission is
// still being handled gets 409.
func (p *Replayer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(HeaderKey))
		if p == nil || p.store == nil || key == "" {
			next.ServeHTTP(w, r)
			return
		}
		if len(key) > maxKeyLength {
			http.Error(w, "idempotency key too long", http.StatusBadRequest)
			return
		}
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		digest := sha256.Sum256(body)
		requestDigest := hex.EncodeToString(digest[:])
		scoped := scopeKey(p.identify(r), r.Method, r.URL.Path, key)
		if !p.claim(scoped) {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "request with this idempotency key is in progress", http.StatusConflict)
			return
		}
		defer p.release(scoped)

		record, found, err := p.store.Get(scoped, p.now())
		if err != nil {
			slog.Warn("idempotency lookup failed", "error", err)
		}
		if found {
			if record.RequestDigest != requestDigest {
				http.Error(w, "idempotency key reused with a different request", http.StatusUnprocessableEntity)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Idempotency-Cache", "hit")
			w.WriteHeader(record.StatusCode)
			_, _ = w.Write(record.Body)
			return
		}

		recorder := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		if recorder.status >= 500 {
			return
		}
		now := p.now()
		if err := p.store.Put(scoped, Record{
			RequestDigest: requestDigest,
			StatusCode:    recorder.status,
			Body:          recorder.body.Bytes(),
			StoredAt:      now,
			ExpiresAt:     now.Add(p.ttl),
		}); err != nil {
			slog.Warn("idempotency persist failed", "error", err)
		}
	})
}

// claim marks scoped as being handled. The lookup, the handler and the
// persisted record all happen under the claim.
func (p *Replayer) claim(scoped string) bool {
	p.inflightMu.Lock()
	defer p.inflightMu.Unlock()
	if _, busy := p.inflight[scoped]; busy {
		return false
	}
	p.inflight[scoped] = struct{}{}
	return true
}

func (p *Replayer) release(scoped string) {
	p.inflightMu.Lock()
	delete(p.inflight, scoped)
	p.inflightMu.Unlock()
}

func scopeKey(caller, method, path, key string) string {
	return strings.Join([]string{caller, method, path, key}, "|")
}

type responseRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	r.body.Write(p)
	return r.ResponseWriter.Write(p)
}
