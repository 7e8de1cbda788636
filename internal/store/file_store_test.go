package store

import (
	"os"
	"testing"

	"github.com/workspacehq/gateway/internal/platform/apierr"
)

func TestFileStore_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir)
	key := Key{SessionID: "sess1", User: "alice", Repo: "demo"}

	if err := s.Save(key, Record{MachineID: "m_1"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := s.Load(key)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.MachineID != "m_1" {
		t.Fatalf("MachineID = %q, want m_1", got.MachineID)
	}
}

func TestFileStore_LoadMissingIsNotFound(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir)
	key := Key{SessionID: "sess1", User: "alice", Repo: "demo"}

	_, err := s.Load(key)
	se, ok := err.(*apierr.StoreError)
	if !ok || se.Kind != apierr.StoreKindNotFound {
		t.Fatalf("err = %v, want StoreError{Kind: NotFound}", err)
	}
}

func TestFileStore_CorruptJSONClassified(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir)
	key := Key{SessionID: "sess1", User: "alice", Repo: "demo"}

	if err := s.Save(key, Record{MachineID: "placeholder"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := os.WriteFile(key.Path(dir), []byte(`{"bogus":1`), 0o644); err != nil {
		t.Fatalf("os.WriteFile() error = %v", err)
	}

	_, err := s.Load(key)
	se, ok := err.(*apierr.StoreError)
	if !ok || se.Kind != apierr.StoreKindCorrupt {
		t.Fatalf("err = %v, want StoreError{Kind: Corrupt}", err)
	}
}

func TestKey_ValidateRejectsPathSeparators(t *testing.T) {
	bad := []Key{
		{SessionID: "a/b", User: "u", Repo: "r"},
		{SessionID: "s", User: "../escape", Repo: "r"},
		{SessionID: "s", User: "u", Repo: ""},
	}
	for _, k := range bad {
		if err := k.Validate(); err == nil {
			t.Errorf("Validate(%+v) = nil, want error", k)
		}
	}
}

