package identity

import (
	"context"
	"errors"
	"strings"
	"testing"

	pkgerrors "github.com/angelmondragon/storefront-engine/pkg/errors"
	"github.com/angelmondragon/storefront-engine/pkg/storage"
	"github.com/google/uuid"
)

type failingStore struct {
	storage.Store
}

func (failingStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("disk full")
}

func TestDeviceIDIsGeneratedOnceAndPersisted(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()

	svc, err := NewService(store, nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	first, err := svc.DeviceID(ctx)
	if err != nil {
		t.Fatalf("DeviceID: %v", err)
	}
	if !strings.HasPrefix(first, "dev_") || len(first) <= len("dev_") {
		t.Fatalf("unexpected device id %q", first)
	}
	second, _ := svc.DeviceID(ctx)
	if first != second {
		t.Fatalf("expected stable device id, got %q then %q", first, second)
	}

	reloaded, _ := NewService(store, nil)
	third, err := reloaded.DeviceID(ctx)
	if err != nil || third != first {
		t.Fatalf("expected persisted device id %q, got %q (%v)", first, third, err)
	}
}

func TestDeviceIDRegeneratesBlankValue(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	_ = store.Set(ctx, storage.KeyDeviceID, []byte("   "))

	svc, _ := NewService(store, nil, WithDeviceIDGenerator(func() string { return "dev_fixed" }))
	id, err := svc.DeviceID(ctx)
	if err != nil || id != "dev_fixed" {
		t.Fatalf("expected regenerated id, got %q (%v)", id, err)
	}
	raw, _, _ := store.Get(ctx, storage.KeyDeviceID)
	if string(raw) != "dev_fixed" {
		t.Fatalf("expected new id persisted, got %q", raw)
	}
}

func TestDeviceIDStoreFailure(t *testing.T) {
	svc, _ := NewService(failingStore{}, nil)
	if _, err := svc.DeviceID(context.Background()); pkgerrors.CodeOf(err) != pkgerrors.CodeDependency {
		t.Fatalf("expected dependency error, got %v", err)
	}
}

func TestSessionIDIsPerProcess(t *testing.T) {
	store := storage.NewMemory()
	a, _ := NewService(store, nil)
	b, _ := NewService(store, nil)

	if _, err := uuid.Parse(a.SessionID()); err != nil {
		t.Fatalf("expected uuid session id, got %q", a.SessionID())
	}
	if a.SessionID() == b.SessionID() {
		t.Fatal("expected a fresh session id per load")
	}
	first := a.SessionID()
	if a.SessionID() != first {
		t.Fatal("expected session id stable within a load")
	}
}

func TestNewServiceRequiresStore(t *testing.T) {
	if _, err := NewService(nil, nil); err == nil {
		t.Fatal("expected error without store")
	}
}
