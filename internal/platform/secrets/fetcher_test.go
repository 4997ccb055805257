package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const webhookSecretResource = "projects/grocery-test/secrets/stripe-webhook-secret/versions/latest"

func writeFallback(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}
	return path
}

func TestResolveCachesUntilTTL(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.values[webhookSecretResource] = "whsec_remote"

	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithProject("grocery-test"),
		WithLogger(zap.NewNop()),
		WithTTL(5*time.Minute),
		WithClock(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	defer fetcher.Close()

	for i := 0; i < 2; i++ {
		got, err := fetcher.Resolve(ctx, "secret://stripe-webhook-secret")
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if got != "whsec_remote" {
			t.Fatalf("expected whsec_remote, got %q", got)
		}
	}
	if calls := client.callCount(webhookSecretResource); calls != 1 {
		t.Fatalf("expected one remote fetch, got %d", calls)
	}

	client.set(webhookSecretResource, "whsec_rotated")
	now = now.Add(6 * time.Minute)
	got, err := fetcher.Resolve(ctx, "secret://stripe-webhook-secret")
	if err != nil {
		t.Fatalf("Resolve after ttl: %v", err)
	}
	if got != "whsec_rotated" {
		t.Fatalf("expected refreshed value, got %q", got)
	}
}

func TestInvalidateForcesRefetch(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.values[webhookSecretResource] = "whsec_one"

	fetcher, err := NewFetcher(ctx, WithSecretManagerClient(client), WithProject("grocery-test"))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	if _, err := fetcher.Resolve(ctx, "secret://stripe-webhook-secret"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	client.set(webhookSecretResource, "whsec_two")
	fetcher.Invalidate("sm://stripe-webhook-secret")

	got, err := fetcher.Resolve(ctx, "secret://stripe-webhook-secret")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "whsec_two" || client.callCount(webhookSecretResource) != 2 {
		t.Fatalf("expected refetch after invalidate, got %q", got)
	}
}

func TestResolvePinnedVersionAndProjectOverride(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	pinned := "projects/payments-prod/secrets/razorpay-webhook-secret/versions/3"
	client.values[pinned] = "rzp_v3"

	fetcher, err := NewFetcher(ctx, WithSecretManagerClient(client), WithProject("grocery-test"))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	got, err := fetcher.ResolveSecret(ctx, "secret://razorpay-webhook-secret?version=3&project=payments-prod")
	if err != nil {
		t.Fatalf("ResolveSecret: %v", err)
	}
	if got != "rzp_v3" {
		t.Fatalf("expected rzp_v3, got %q", got)
	}
}

func TestResolveFallsBackWhenAccessDenied(t *testing.T) {
	ctx := context.Background()
	path := writeFallback(t, "# local development\nsecret://stripe-webhook-secret=whsec_local\nsecret://stripe-api-key?version=2=sk_test_v2\n")
	client := newFakeSecretClient()
	client.errors[webhookSecretResource] = status.Error(codes.PermissionDenied, "denied")

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithProject("grocery-test"),
		WithFallbackFile(path),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	got, err := fetcher.Resolve(ctx, "secret://stripe-webhook-secret")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "whsec_local" {
		t.Fatalf("expected whsec_local, got %q", got)
	}

	pinned := "projects/grocery-test/secrets/stripe-api-key/versions/2"
	client.errors[pinned] = status.Error(codes.Unavailable, "down")
	got, err = fetcher.Resolve(ctx, "secret://stripe-api-key?version=2")
	if err != nil {
		t.Fatalf("Resolve pinned: %v", err)
	}
	if got != "sk_test_v2" {
		t.Fatalf("expected sk_test_v2, got %q", got)
	}
}

func TestResolveNotFoundIsAnError(t *testing.T) {
	ctx := context.Background()
	path := writeFallback(t, "secret://stripe-webhook-secret=whsec_local\n")
	client := newFakeSecretClient()

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithProject("grocery-test"),
		WithFallbackFile(path),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	if _, err := fetcher.Resolve(ctx, "secret://stripe-webhook-secret"); err == nil {
		t.Fatal("expected NotFound to surface instead of the fallback value")
	}
}

func TestNewFetcherWithoutCredentialsUsesFallback(t *testing.T) {
	original := secretManagerClientFactory
	secretManagerClientFactory = func(context.Context, ...option.ClientOption) (secretManagerClient, error) {
		return nil, errors.New("no credentials")
	}
	t.Cleanup(func() { secretManagerClientFactory = original })

	path := writeFallback(t, "secret://razorpay-webhook-secret=rzp_local\n")
	fetcher, err := NewFetcher(context.Background(), WithProject("grocery-test"), WithFallbackFile(path))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	defer fetcher.Close()

	got, err := fetcher.Resolve(context.Background(), "secret://razorpay-webhook-secret")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "rzp_local" {
		t.Fatalf("expected rzp_local, got %q", got)
	}
	if _, err := fetcher.Resolve(context.Background(), "secret://missing"); err == nil {
		t.Fatal("expected error for a secret with no fallback value")
	}
}

func TestParseReference(t *testing.T) {
	tests := []struct {
		ref     string
		wantErr bool
		key     string
	}{
		{ref: "secret://stripe-api-key", key: "secret://stripe-api-key#latest"},
		{ref: "sm://stripe-api-key?version=4", key: "secret://stripe-api-key#4"},
		{ref: "https://example.com/x", wantErr: true},
		{ref: "secret://", wantErr: true},
		{ref: "  ", wantErr: true},
	}
	for _, tc := range tests {
		got, err := parseReference(tc.ref)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%q: expected error", tc.ref)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: %v", tc.ref, err)
		}
		if got.cacheKey() != tc.key {
			t.Fatalf("%q: expected key %q, got %q", tc.ref, tc.key, got.cacheKey())
		}
	}
}

type fakeSecretClient struct {
	mu      sync.Mutex
	values  map[string]string
	errors  map[string]error
	counter map[string]int
}

func newFakeSecretClient() *fakeSecretClient {
	return &fakeSecretClient{
		values:  make(map[string]string),
		errors:  make(map[string]error),
		counter: make(map[string]int),
	}
}

func (f *fakeSecretClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := req.GetName()
	f.counter[name]++
	if err := f.errors[name]; err != nil {
		return nil, err
	}
	if value, ok := f.values[name]; ok {
		return &secretmanagerpb.AccessSecretVersionResponse{
			Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
		}, nil
	}
	return nil, status.Error(codes.NotFound, "not found")
}

func (f *fakeSecretClient) Close() error { return nil }

func (f *fakeSecretClient) set(name, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[name] = value
}

func (f *fakeSecretClient) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counter[name]
}
