package tokenstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/zalando/go-keyring"
)

// exerciseBackend runs the Backend contract against b.
func exerciseBackend(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()

	if _, err := b.Get(ctx, "accessToken"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() on empty backend error = %v, want ErrNotFound", err)
	}
	if err := b.Remove(ctx, "accessToken"); err != nil {
		t.Fatalf("Remove() of absent key error = %v", err)
	}

	if err := b.Set(ctx, "accessToken", "value-1"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := b.Set(ctx, "accessToken", "value-2"); err != nil {
		t.Fatalf("Set() overwrite error = %v", err)
	}
	got, err := b.Get(ctx, "accessToken")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "value-2" {
		t.Errorf("Get() = %q, want %q", got, "value-2")
	}

	if err := b.Remove(ctx, "accessToken"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := b.Get(ctx, "accessToken"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after Remove() error = %v, want ErrNotFound", err)
	}
}

func TestMemoryBackend(t *testing.T) {
	exerciseBackend(t, NewMemoryBackend())
}

func TestFileBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	b, err := NewFileBackend(path)
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}
	exerciseBackend(t, b)

	if err := b.Set(context.Background(), "refreshToken", "r"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permissions = %04o, want 0600", perm)
	}
}

func TestFileBackendRejectsInsecurePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "durable.json")
	if err := os.WriteFile(path, []byte(`{"accessToken":"a"}`), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	b, err := NewFileBackend(path)
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}

	_, err = b.Get(context.Background(), "accessToken")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want permission error", err)
	}
}

func TestFileBackendReplacesCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "durable.json")
	if err := os.WriteFile(path, []byte("{corrupt"), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	b, err := NewFileBackend(path)
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}

	if _, err := b.Get(context.Background(), "accessToken"); err == nil {
		t.Error("Get() on corrupt file error = nil, want decode error")
	}
	if err := b.Set(context.Background(), "accessToken", "fresh"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got, _ := b.Get(context.Background(), "accessToken"); got != "fresh" {
		t.Errorf("Get() = %q, want fresh", got)
	}
}

func TestNewFileBackendEmptyPath(t *testing.T) {
	if _, err := NewFileBackend(""); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestKeyringBackend(t *testing.T) {
	keyring.MockInit()

	b, err := NewKeyringBackend("composr-connector-test")
	if err != nil {
		t.Fatalf("NewKeyringBackend() error = %v", err)
	}
	exerciseBackend(t, b)

	if _, err := NewKeyringBackend(""); err == nil {
		t.Error("expected error for empty service")
	}
}

func TestRedisBackend(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()

	b, err := NewRedisBackend(context.Background(), "redis://"+mr.Addr(), "test:")
	if err != nil {
		t.Fatalf("NewRedisBackend() error = %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })

	exerciseBackend(t, b)

	if err := b.Set(context.Background(), "clientAccessToken", "c"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got, err := mr.Get("test:clientAccessToken"); err != nil || got != "c" {
		t.Errorf("raw redis value = %q (err %v), want prefixed key", got, err)
	}
}

func TestNewRedisBackendUnreachable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	addr := mr.Addr()
	mr.Close()

	if _, err := NewRedisBackend(context.Background(), "redis://"+addr, ""); err == nil {
		t.Error("expected ping failure for closed server")
	}
}

func TestEnvBackend(t *testing.T) {
	t.Setenv("TEST_CONNECTOR_ACCESS_TOKEN", "from-env")

	b, err := NewEnvBackend("TEST_CONNECTOR_")
	if err != nil {
		t.Fatalf("NewEnvBackend() error = %v", err)
	}
	ctx := context.Background()

	got, err := b.Get(ctx, "accessToken")
	if err != nil || got != "from-env" {
		t.Errorf("Get() = %q, %v; want from-env", got, err)
	}
	if _, err := b.Get(ctx, "refreshToken"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() missing error = %v, want ErrNotFound", err)
	}
	if err := b.Set(ctx, "accessToken", "x"); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Set() error = %v, want ErrReadOnly", err)
	}
	if err := b.Remove(ctx, "accessToken"); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Remove() error = %v, want ErrReadOnly", err)
	}

	if _, err := NewEnvBackend(""); err == nil {
		t.Error("expected error for empty prefix")
	}
}
