package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/merakistore/api/internal/platform/auth"
	"github.com/merakistore/api/internal/platform/httpx"
)

const (
	defaultHeader = "Idempotency-Key"
	replayHeader  = "X-Idempotent-Replay"
)

// Logger receives persistence failures the middleware cannot surface to the
// client.
type Logger interface {
	Printf(format string, args ...any)
}

type middleware struct {
	store  Store
	header string
	ttl    time.Duration
	// methods guarded by the key check; others pass straight through.
	methods map[string]bool
	clock   func() time.Time
	logger  Logger
}

// MiddlewareOption adjusts middleware behaviour.
type MiddlewareOption func(*middleware)

// WithHeader overrides the header carrying the idempotency key.
func WithHeader(name string) MiddlewareOption {
	return func(m *middleware) {
		if name = strings.TrimSpace(name); name != "" {
			m.header = name
		}
	}
}

// WithTTL sets how long stored responses stay replayable.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(m *middleware) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithMethods restricts which HTTP methods require a key.
func WithMethods(methods ...string) MiddlewareOption {
	return func(m *middleware) {
		if len(methods) == 0 {
			return
		}
		m.methods = make(map[string]bool, len(methods))
		for _, method := range methods {
			if method = strings.ToUpper(strings.TrimSpace(method)); method != "" {
				m.methods[method] = true
			}
		}
	}
}

// WithLogger sets the logger for store failures.
func WithLogger(logger Logger) MiddlewareOption {
	return func(m *middleware) {
		m.logger = logger
	}
}

// WithClock overrides the time source for tests.
func WithClock(clock func() time.Time) MiddlewareOption {
	return func(m *middleware) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// Middleware enforces idempotency on mutating requests that carry the key
// header. A nil store disables the middleware.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	m := &middleware{
		store:  store,
		header: defaultHeader,
		ttl:    DefaultTTL,
		methods: map[string]bool{
			http.MethodPost:   true,
			http.MethodPut:    true,
			http.MethodPatch:  true,
			http.MethodDelete: true,
		},
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !m.methods[r.Method] {
				next.ServeHTTP(w, r)
				return
			}
			m.serve(w, r, next)
		})
	}
}

func (m *middleware) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	ctx := r.Context()

	key := strings.TrimSpace(r.Header.Get(m.header))
	if key == "" {
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required", "missing "+m.header+" header", http.StatusBadRequest))
		return
	}

	body, err := bufferBody(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("request_body_unreadable", "unable to read request body", http.StatusInternalServerError))
		return
	}

	uid := "anonymous"
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil && identity.UID != "" {
		uid = identity.UID
	}
	// Keys are scoped per caller so one user's key cannot replay another's
	// response.
	scoped := uid + "|" + key
	digest := requestDigest(r, uid, body)
	now := m.clock().UTC()

	outcome, record, err := m.store.Claim(ctx, scoped, digest, now, m.ttl)
	if err != nil {
		if err == ErrDigestMismatch {
			httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_conflict", "idempotency key already used for a different request", http.StatusConflict))
			return
		}
		m.logf("idempotency: claim %s: %v", key, err)
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_store_error", "unable to process idempotency key", http.StatusInternalServerError))
		return
	}

	switch outcome {
	case OutcomeReplay:
		replay(w, record)
		return
	case OutcomeInFlight:
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "another request with this idempotency key is in progress", http.StatusConflict))
		return
	}

	buffered := &bufferedResponse{header: make(http.Header)}
	next.ServeHTTP(buffered, r)

	rec := Record{
		Status:  buffered.status(),
		Headers: storableHeaders(buffered.header),
		Body:    buffered.body.Bytes(),
	}
	if err := m.store.Complete(ctx, scoped, digest, rec, m.clock().UTC(), m.ttl); err != nil {
		m.logf("idempotency: store response for %s: %v", key, err)
		if err := m.store.Abandon(ctx, scoped); err != nil {
			m.logf("idempotency: abandon %s: %v", key, err)
		}
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_store_error", "unable to persist idempotency state", http.StatusInternalServerError))
		return
	}

	buffered.flush(w)
}

func (m *middleware) logf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}

// bufferBody drains the request body and restores it for the handler.
func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

// requestDigest fingerprints the request so a reused key with a different
// payload, path or caller is rejected instead of replayed.
func requestDigest(r *http.Request, uid string, body []byte) string {
	h := sha256.New()
	io.WriteString(h, strings.ToUpper(r.Method))
	io.WriteString(h, "|")
	io.WriteString(h, r.URL.Path)
	io.WriteString(h, "|")
	io.WriteString(h, r.URL.RawQuery)
	io.WriteString(h, "|")
	io.WriteString(h, uid)
	io.WriteString(h, "|")
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func replay(w http.ResponseWriter, record Record) {
	for name, values := range record.Headers {
		for _, value := range values {
			w.Header().Add(name, value)
		}
	}
	w.Header().Set(replayHeader, "true")

	status := record.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(record.Body) > 0 {
		w.Write(record.Body)
	}
}

// bufferedResponse holds the handler's response until it is stored, so a
// persistence failure can still surface as an error to the client.
type bufferedResponse struct {
	header     http.Header
	statusCode int
	body       bytes.Buffer
}

func (b *bufferedResponse) Header() http.Header {
	return b.header
}

func (b *bufferedResponse) WriteHeader(status int) {
	if b.statusCode == 0 {
		b.statusCode = status
	}
}

func (b *bufferedResponse) Write(data []byte) (int, error) {
	if b.statusCode == 0 {
		b.statusCode = http.StatusOK
	}
	return b.body.Write(data)
}

func (b *bufferedResponse) status() int {
	if b.statusCode == 0 {
		return http.StatusOK
	}
	return b.statusCode
}

func (b *bufferedResponse) flush(w http.ResponseWriter) {
	dst := w.Header()
	for name, values := range b.header {
		dst[name] = values
	}
	w.WriteHeader(b.status())
	if b.body.Len() > 0 {
		w.Write(b.body.Bytes())
	}
}
