// Package secrets resolves secret:// references against Google Secret
// Manager. Resolved values are cached per process, and a local key=value file
// serves environments without Secret Manager access.
package secrets

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const defaultFallbackFile = ".secrets.local"

// accessClient is the slice of the Secret Manager client the fetcher needs.
type accessClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret:// references, preferring Secret Manager and
// falling back to a local file when the manager is unreachable or denied.
type Fetcher struct {
	client     accessClient
	ownsClient bool

	logger  *zap.Logger
	env     string
	project string

	fallbackFile string
	fallbackOnce sync.Once
	fallback     map[string]string
	fallbackErr  error

	mu       sync.RWMutex
	resolved map[string]string

	latency    metric.Float64Histogram
	hasLatency bool
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithEnvironment records the deployment environment label used in logs.
func WithEnvironment(env string) Option {
	return func(f *Fetcher) {
		f.env = strings.ToLower(strings.TrimSpace(env))
	}
}

// WithDefaultProject sets the GCP project consulted when a reference does not
// name one itself.
func WithDefaultProject(projectID string) Option {
	return func(f *Fetcher) {
		f.project = strings.TrimSpace(projectID)
	}
}

// WithFallbackFile points the fetcher at a local key=value secrets file.
func WithFallbackFile(path string) Option {
	return func(f *Fetcher) {
		f.fallbackFile = strings.TrimSpace(path)
	}
}

// WithClient injects a preconstructed Secret Manager client. Tests use this
// to avoid dialing the real service.
func WithClient(client accessClient) Option {
	return func(f *Fetcher) {
		f.client = client
	}
}

// NewFetcher builds a Fetcher. When no client is injected it dials Secret
// Manager; a dial failure is not fatal, the fetcher then serves exclusively
// from the fallback file.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	f := &Fetcher{
		logger:       zap.NewNop(),
		fallbackFile: defaultFallbackFile,
		resolved:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(f)
	}

	meter := otel.GetMeterProvider().Meter("github.com/merakistore/api/internal/platform/secrets")
	latency, err := meter.Float64Histogram(
		"secrets.resolve.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency of secret resolution attempts"),
	)
	if err != nil {
		f.logger.Warn("secrets: latency metric unavailable", zap.Error(err))
	} else {
		f.latency = latency
		f.hasLatency = true
	}

	if f.client == nil {
		client, err := newManagerClient(ctx)
		if err != nil {
			f.logger.Warn("secrets: secret manager unreachable, using fallback file only", zap.Error(err))
		} else {
			f.client = client
			f.ownsClient = true
		}
	}
	return f, nil
}

var newManagerClient = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

// Close releases the Secret Manager client when the fetcher owns it.
func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// Resolve returns the value behind a secret://name?version=N&project=P
// reference. Values resolve once per process; repeated calls hit the cache.
func (f *Fetcher) Resolve(ctx context.Context, ref string) (string, error) {
	start := time.Now()
	parsed, err := parseRef(ref)
	if err != nil {
		return "", err
	}

	f.mu.RLock()
	value, ok := f.resolved[parsed.key()]
	f.mu.RUnlock()
	if ok {
		f.record(ctx, start, "cache")
		return value, nil
	}

	if f.client != nil && f.projectFor(parsed) != "" {
		value, err := f.access(ctx, parsed)
		if err == nil {
			f.store(parsed, value)
			f.record(ctx, start, "manager")
			return value, nil
		}
		if !retriableWithFallback(err) {
			f.record(ctx, start, "error")
			return "", fmt.Errorf("secrets: resolve %s: %w", parsed.name, err)
		}
		f.logger.Debug("secrets: manager lookup failed, trying fallback file",
			zap.String("secret", parsed.name), zap.String("env", f.env), zap.Error(err))
	}

	value, ok = f.fromFallback(parsed)
	if !ok {
		f.record(ctx, start, "error")
		return "", fmt.Errorf("secrets: no value for %s", parsed.name)
	}
	f.store(parsed, value)
	f.record(ctx, start, "fallback")
	return value, nil
}

func (f *Fetcher) access(ctx context.Context, ref secretRef) (string, error) {
	name := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", f.projectFor(ref), ref.name, ref.version)
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", fmt.Errorf("empty payload for %s", name)
	}
	return string(resp.GetPayload().GetData()), nil
}

func (f *Fetcher) projectFor(ref secretRef) string {
	if ref.project != "" {
		return ref.project
	}
	return f.project
}

func (f *Fetcher) store(ref secretRef, value string) {
	f.mu.Lock()
	f.resolved[ref.key()] = value
	f.mu.Unlock()
}

func (f *Fetcher) fromFallback(ref secretRef) (string, bool) {
	f.fallbackOnce.Do(f.loadFallback)
	if f.fallbackErr != nil {
		f.logger.Debug("secrets: fallback file unreadable", zap.Error(f.fallbackErr))
		return "", false
	}
	if value, ok := f.fallback[ref.key()]; ok {
		return value, true
	}
	value, ok := f.fallback[ref.name]
	return value, ok
}

// loadFallback reads the key=value fallback file. Blank lines and #-comments
// are skipped. Keys may be bare secret names or full secret:// references.
func (f *Fetcher) loadFallback() {
	f.fallback = map[string]string{}
	if f.fallbackFile == "" {
		return
	}
	file, err := os.Open(f.fallbackFile)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			f.fallbackErr = fmt.Errorf("secrets: open %s: %w", f.fallbackFile, err)
		}
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" {
			continue
		}
		if ref, err := parseRef(key); err == nil {
			f.fallback[ref.name] = value
			f.fallback[ref.key()] = value
		} else {
			f.fallback[key] = value
		}
	}
	if err := scanner.Err(); err != nil {
		f.fallbackErr = fmt.Errorf("secrets: read %s: %w", f.fallbackFile, err)
	}
}

func (f *Fetcher) record(ctx context.Context, start time.Time, source string) {
	if !f.hasLatency {
		return
	}
	elapsed := float64(time.Since(start)) / float64(time.Millisecond)
	f.latency.Record(ctx, elapsed, metric.WithAttributes(attribute.String("source", source)))
}

type secretRef struct {
	name    string
	version string
	project string
}

func (r secretRef) key() string {
	return r.name + "@" + r.version
}

func parseRef(ref string) (secretRef, error) {
	if strings.TrimSpace(ref) == "" {
		return secretRef{}, errors.New("secrets: empty reference")
	}
	u, err := url.Parse(ref)
	if err != nil {
		return secretRef{}, fmt.Errorf("secrets: bad reference %q: %w", ref, err)
	}
	if u.Scheme != "secret" {
		return secretRef{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return secretRef{}, fmt.Errorf("secrets: missing secret name in %q", ref)
	}
	version := strings.TrimSpace(u.Query().Get("version"))
	if version == "" {
		version = "latest"
	}
	return secretRef{
		name:    name,
		version: version,
		project: strings.TrimSpace(u.Query().Get("project")),
	}, nil
}

// retriableWithFallback reports whether the manager error is the kind a local
// fallback should absorb, access or availability trouble rather than a bad
// reference.
func retriableWithFallback(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}
