//go:build integration

package firestore

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	pconfig "github.com/karimtraders/grocery/internal/platform/config"
	pfirestore "github.com/karimtraders/grocery/internal/platform/firestore"
)

var emulatorProjects atomic.Int64

// newEmulatorProvider binds a provider to the emulator named by FIRESTORE_EMULATOR_HOST. Each
// call gets its own project id, so tests never see each other's documents.
func newEmulatorProvider(t *testing.T, prefix string) *pfirestore.Provider {
	t.Helper()
	host := strings.TrimSpace(os.Getenv("FIRESTORE_EMULATOR_HOST"))
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	project := fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixNano(), emulatorProjects.Add(1))
	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: project, EmulatorHost: host})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })
	return provider
}
