package secrets

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type stubManager struct {
	values map[string]string
	err    error
	calls  int
}

func (s *stubManager) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	value, ok := s.values[req.GetName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "secret version not found")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
	}, nil
}

func (s *stubManager) Close() error { return nil }

func writeFallbackFile(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o600); err != nil {
		t.Fatalf("write fallback file: %v", err)
	}
	return path
}

func TestFetcherResolvesFromManagerAndCaches(t *testing.T) {
	manager := &stubManager{values: map[string]string{
		"projects/merakistore-prod/secrets/razorpay-key-secret/versions/latest": "rzp_live_abc",
	}}
	fetcher, err := NewFetcher(context.Background(),
		WithClient(manager),
		WithDefaultProject("merakistore-prod"),
	)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}

	for i := 0; i < 3; i++ {
		value, err := fetcher.Resolve(context.Background(), "secret://razorpay-key-secret")
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if value != "rzp_live_abc" {
			t.Fatalf("expected rzp_live_abc, got %q", value)
		}
	}
	if manager.calls != 1 {
		t.Fatalf("expected a single manager call, got %d", manager.calls)
	}
}

func TestFetcherHonoursVersionAndProjectOverrides(t *testing.T) {
	manager := &stubManager{values: map[string]string{
		"projects/merakistore-staging/secrets/jwt-signing-key/versions/7": "hs256-key-v7",
	}}
	fetcher, err := NewFetcher(context.Background(),
		WithClient(manager),
		WithDefaultProject("merakistore-prod"),
	)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}

	value, err := fetcher.Resolve(context.Background(), "secret://jwt-signing-key?version=7&project=merakistore-staging")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if value != "hs256-key-v7" {
		t.Fatalf("expected hs256-key-v7, got %q", value)
	}
}

func TestFetcherFallsBackWhenAccessDenied(t *testing.T) {
	path := writeFallbackFile(t,
		"# local development secrets",
		"jwt-signing-key=local-dev-key",
		"secret://razorpay-key-secret=rzp_test_xyz",
	)
	manager := &stubManager{err: status.Error(codes.PermissionDenied, "caller lacks access")}
	fetcher, err := NewFetcher(context.Background(),
		WithClient(manager),
		WithDefaultProject("merakistore-prod"),
		WithEnvironment("local"),
		WithFallbackFile(path),
	)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}

	value, err := fetcher.Resolve(context.Background(), "secret://jwt-signing-key")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if value != "local-dev-key" {
		t.Fatalf("expected local-dev-key, got %q", value)
	}

	value, err = fetcher.Resolve(context.Background(), "secret://razorpay-key-secret")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if value != "rzp_test_xyz" {
		t.Fatalf("expected rzp_test_xyz, got %q", value)
	}
}

func TestFetcherDoesNotMaskNotFound(t *testing.T) {
	path := writeFallbackFile(t, "jwt-signing-key=local-dev-key")
	manager := &stubManager{err: status.Error(codes.NotFound, "secret not found")}
	fetcher, err := NewFetcher(context.Background(),
		WithClient(manager),
		WithDefaultProject("merakistore-prod"),
		WithFallbackFile(path),
	)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}

	if _, err := fetcher.Resolve(context.Background(), "secret://jwt-signing-key"); err == nil {
		t.Fatal("expected a not-found error, fallback must not absorb it")
	}
}

func TestFetcherWithoutClientServesFallbackOnly(t *testing.T) {
	path := writeFallbackFile(t, "razorpay-webhook-secret=whsec_local")
	fetcher := &Fetcher{
		logger:       zap.NewNop(),
		fallbackFile: path,
		resolved:     map[string]string{},
	}

	value, err := fetcher.Resolve(context.Background(), "secret://razorpay-webhook-secret")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if value != "whsec_local" {
		t.Fatalf("expected whsec_local, got %q", value)
	}

	if _, err := fetcher.Resolve(context.Background(), "secret://missing-secret"); err == nil {
		t.Fatal("expected an error for an unknown secret")
	}
}

func TestParseRefRejectsBadReferences(t *testing.T) {
	cases := []struct {
		name string
		ref  string
	}{
		{"empty", ""},
		{"wrong scheme", "vault://jwt-signing-key"},
		{"missing name", "secret://"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parseRef(tc.ref); err == nil {
				t.Fatalf("expected an error for %q", tc.ref)
			}
		})
	}
}

func TestParseRefDefaultsVersionToLatest(t *testing.T) {
	ref, err := parseRef("secret://razorpay-key-id")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ref.version != "latest" {
		t.Fatalf("expected latest, got %q", ref.version)
	}
	if ref.key() != "razorpay-key-id@latest" {
		t.Fatalf("unexpected cache key %q", ref.key())
	}
}
