package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cmlabs/modelproxy/model"
	"go.uber.org/zap"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

const validConfig = `{
	"endpoints": {
		"alias-a": {
			"displayName": "Instance A",
			"url": "https://a.example.com",
			"apiKey": "key-aaaaaaaaaaaa",
			"actualModelName": "real-a"
		},
		"alias-b": {
			"url": "https://b.example.com",
			"apiKey": "key-bbbbbbbbbbbb",
			"actualModelName": "real-b"
		}
	}
}`

func TestLoadRoundTrip(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	path := writeFile(t, "config.json", validConfig)

	snap, err := Load(path, logger)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	ep, err := snap.Resolve("alias-a")
	if err != nil {
		t.Fatalf("Resolve(alias-a) failed: %v", err)
	}
	if ep.DisplayName != "Instance A" || ep.URL != "https://a.example.com" ||
		ep.APIKey != "key-aaaaaaaaaaaa" || ep.ActualModelName != "real-a" {
		t.Errorf("alias-a fields did not round-trip: %+v", ep)
	}

	// displayName defaults to the model id when omitted.
	epB, err := snap.Resolve("alias-b")
	if err != nil {
		t.Fatalf("Resolve(alias-b) failed: %v", err)
	}
	if epB.DisplayName != "alias-b" {
		t.Errorf("expected defaulted displayName 'alias-b', got %q", epB.DisplayName)
	}

	if !filepath.IsAbs(snap.Path) {
		t.Errorf("expected absolute snapshot path, got %q", snap.Path)
	}
}

func TestLoadMissingFile(t *testing.T) {
	logger, _ := zap.NewDevelopment()

	_, err := Load(filepath.Join(t.TempDir(), "nope.json"), logger)
	if err == nil {
		t.Fatal("expected an error for a missing file")
	}
	var cfgErr *Error
	if !errors.As(err, &cfgErr) {
		t.Errorf("expected *config.Error, got %T", err)
	}
}

func TestLoadInvalidJSON(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	path := writeFile(t, "config.json", `{"endpoints": {`)

	if _, err := Load(path, logger); err == nil {
		t.Fatal("expected an error for invalid JSON")
	}
}

func TestLoadMissingRequiredField(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	path := writeFile(t, "config.json", `{
		"endpoints": {
			"alias-a": {"url": "https://a.example.com", "actualModelName": "real-a"}
		}
	}`)

	_, err := Load(path, logger)
	if err == nil {
		t.Fatal("expected an error for a missing apiKey")
	}
	var cfgErr *Error
	if !errors.As(err, &cfgErr) {
		t.Errorf("expected *config.Error, got %T", err)
	}
}

func TestResolveUnknownModel(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	path := writeFile(t, "config.json", validConfig)

	snap, err := Load(path, logger)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if _, err := snap.Resolve("nonexistent"); !errors.Is(err, model.ErrUnknownModel) {
		t.Errorf("expected ErrUnknownModel, got %v", err)
	}
}

func TestReloadSwapsSnapshot(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	path := writeFile(t, "config.json", validConfig)

	snap, err := Load(path, logger)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	store := NewStore(snap, logger)

	next := writeFile(t, "next.json", `{
		"endpoints": {
			"alias-c": {"url": "https://c.example.com", "apiKey": "key-cccccccccccc", "actualModelName": "real-c"}
		}
	}`)
	if _, err := store.Reload(next); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	if _, err := store.Snapshot().Resolve("alias-c"); err != nil {
		t.Errorf("expected alias-c after reload: %v", err)
	}
	if _, err := store.Snapshot().Resolve("alias-a"); !errors.Is(err, model.ErrUnknownModel) {
		t.Errorf("expected alias-a gone after reload, got %v", err)
	}
}

func TestFailedReloadKeepsPreviousSnapshot(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	path := writeFile(t, "config.json", validConfig)

	snap, err := Load(path, logger)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	store := NewStore(snap, logger)

	bad := writeFile(t, "bad.json", `not json at all`)
	if _, err := store.Reload(bad); err == nil {
		t.Fatal("expected reload of invalid file to fail")
	}

	// The previously active snapshot must remain intact and serving.
	if store.Snapshot() != snap {
		t.Error("active snapshot changed after a failed reload")
	}
	ep, err := store.Snapshot().Resolve("alias-a")
	if err != nil {
		t.Fatalf("alias-a no longer resolves after failed reload: %v", err)
	}
	if ep.ActualModelName != "real-a" {
		t.Errorf("descriptor changed after failed reload: %+v", ep)
	}
}

func TestReloadHook(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	path := writeFile(t, "config.json", validConfig)

	snap, err := Load(path, logger)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	var outcomes []error
	store := NewStore(snap, logger)
	store.OnReload = func(err error) { outcomes = append(outcomes, err) }

	store.Reload(path)                                      //nolint:errcheck
	store.Reload(filepath.Join(t.TempDir(), "absent.json")) //nolint:errcheck

	if len(outcomes) != 2 || outcomes[0] != nil || outcomes[1] == nil {
		t.Errorf("unexpected hook outcomes: %v", outcomes)
	}
}
