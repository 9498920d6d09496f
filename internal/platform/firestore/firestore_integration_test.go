//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	pconfig "github.com/merakistore/api/internal/platform/config"
	pfirestore "github.com/merakistore/api/internal/platform/firestore"
)

const emulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

type stockDoc struct {
	Name  string `firestore:"name"`
	Stock int64  `firestore:"stock"`
}

// Exercises the provider and typed repository against a real Firestore
// emulator: set, get, partial update, query, not-found classification and a
// transactional stock deduction.
func TestProviderAgainstEmulator(t *testing.T) {
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}
	requireDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	container := startEmulator(t, port)
	defer stopContainer(container)
	waitForEndpoint(t, endpoint, 30*time.Second)

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{
		ProjectID:    "merakistore-test",
		EmulatorHost: endpoint,
	})
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if _, err := provider.Client(ctx); err != nil {
		t.Fatalf("client: %v", err)
	}

	products := pfirestore.NewRepository[stockDoc](provider, "products")

	if _, err := products.Set(ctx, "prod-kurta", stockDoc{Name: "Indigo Kurta", Stock: 10}); err != nil {
		t.Fatalf("set: %v", err)
	}

	doc, err := products.Get(ctx, "prod-kurta")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc.ID != "prod-kurta" || doc.Data.Stock != 10 {
		t.Fatalf("unexpected document: %#v", doc)
	}
	if doc.UpdateTime.IsZero() {
		t.Fatal("expected a server update time")
	}

	if _, err := products.Update(ctx, "prod-kurta", []firestore.Update{{Path: "stock", Value: 8}}); err != nil {
		t.Fatalf("update: %v", err)
	}
	doc, err = products.Get(ctx, "prod-kurta")
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if doc.Data.Stock != 8 {
		t.Fatalf("expected stock 8, got %d", doc.Data.Stock)
	}

	docs, err := products.Query(ctx, nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}

	_, err = products.Get(ctx, "prod-missing")
	if err == nil {
		t.Fatal("expected a not-found error")
	}
	var classified interface{ IsNotFound() bool }
	if !errors.As(err, &classified) || !classified.IsNotFound() {
		t.Fatalf("expected not-found classification, got %v", err)
	}

	err = provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := products.DocumentRef(ctx, "prod-kurta")
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var product stockDoc
		if err := snap.DataTo(&product); err != nil {
			return err
		}
		product.Stock -= 2
		return tx.Set(ref, product)
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}

	doc, err = products.Get(ctx, "prod-kurta")
	if err != nil {
		t.Fatalf("get after transaction: %v", err)
	}
	if doc.Data.Stock != 6 {
		t.Fatalf("expected stock 6 after deduction, got %d", doc.Data.Stock)
	}

	cancelled, cancelTx := context.WithCancel(context.Background())
	cancelTx()
	err = provider.RunTransaction(cancelled, func(context.Context, *firestore.Transaction) error {
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("allocate port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func requireDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, "docker", "info").Run(); err != nil {
		t.Skip("docker daemon unavailable: " + err.Error())
	}
}

func startEmulator(t *testing.T, port int) string {
	t.Helper()
	out, err := exec.Command("docker",
		"run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		emulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080",
		"--quiet",
	).CombinedOutput()
	if err != nil {
		t.Fatalf("start firestore emulator: %v - %s", err, out)
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		t.Fatal("docker returned an empty container id")
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

func stopContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = exec.CommandContext(ctx, "docker", "stop", id).Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		lastErr = err
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("emulator not ready: %v", lastErr)
}
