package config

import (
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default() config failed validation: %v", err)
	}
}

func TestValidateRejectsOverbudgetGossip(t *testing.T) {
	cfg := Default()
	cfg.Gossip.Healing = 6
	cfg.Gossip.Swap = 6
	cfg.Gossip.ViewCapacity = 10

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error when healing+swap exceeds view_capacity")
	}
}

func TestValidateRejectsUnknownPolicy(t *testing.T) {
	cfg := Default()
	cfg.Gossip.Policy = "youngest"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for unknown gossip policy")
	}
}

func TestValidateRejectsMissingSignalURL(t *testing.T) {
	cfg := Default()
	cfg.Signal.URL = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for empty signal.url")
	}
}

func TestEnsureCreatesThenLoads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meshpeer.json")

	cfg, created, err := Ensure(path)
	if err != nil {
		t.Fatalf("Ensure (create): %v", err)
	}
	if !created {
		t.Fatal("expected first Ensure call to report created=true")
	}
	if cfg.Mesh.TTL != Default().Mesh.TTL {
		t.Fatalf("expected default ttl, got %d", cfg.Mesh.TTL)
	}

	cfg2, created2, err := Ensure(path)
	if err != nil {
		t.Fatalf("Ensure (load): %v", err)
	}
	if created2 {
		t.Fatal("expected second Ensure call to report created=false")
	}
	if cfg2.Signal.URL != cfg.Signal.URL {
		t.Fatalf("expected loaded config to match written config, got %+v vs %+v", cfg2, cfg)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meshpeer.json")

	cfg := Default()
	cfg.Peer.ID = "f47ac10b-58cc-4372-a567-0e02b2c3d479"
	cfg.Mesh.TTL = 7

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Peer.ID != cfg.Peer.ID {
		t.Fatalf("expected peer id %q, got %q", cfg.Peer.ID, loaded.Peer.ID)
	}
	if loaded.Mesh.TTL != 7 {
		t.Fatalf("expected ttl 7, got %d", loaded.Mesh.TTL)
	}
}

func TestSaveRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meshpeer.json")

	cfg := Default()
	cfg.Media.ChunkSize = 0

	if err := Save(path, cfg); err == nil {
		t.Fatal("expected Save to reject an invalid config")
	}
}
