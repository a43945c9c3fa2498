package main

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"aichat/internal/catalog"
	"aichat/internal/crypto"
	"aichat/internal/storage"
)

const sampleSeed = `
[[models]]
id = "gpt-4o"
name = "GPT-4o"
provider = "openai"
api_key = "sk-test"

[[models]]
id = "local"
name = "Local"
provider = "custom"
base_url = "http://localhost:11434/v1"
`

func TestLoadSeedFile(t *testing.T) {
	models, err := loadSeedFile(strings.NewReader(sampleSeed))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(models) != 2 || models[0].APIKey != "sk-test" || models[1].BaseURL != "http://localhost:11434/v1" {
		t.Fatalf("unexpected models %+v", models)
	}
	if models[1].Provider != catalog.KindCustom {
		t.Fatalf("unexpected provider %q", models[1].Provider)
	}
}

func TestLoadSeedFileRejectsBadInput(t *testing.T) {
	dup := `
[[models]]
id = "a"
provider = "openai"

[[models]]
id = "a"
provider = "google"
`
	if _, err := loadSeedFile(strings.NewReader(dup)); err == nil {
		t.Fatal("expected duplicate id error")
	}
	if _, err := loadSeedFile(strings.NewReader("[[models]]\nid = \"a\"\nprovider = \"openai\"\ntoken = \"x\"\n")); err == nil {
		t.Fatal("expected unknown field error")
	}
}

func TestSeedModelsRefusesNonEmptyListWithoutForce(t *testing.T) {
	ctx := context.Background()
	store, err := storage.Open(ctx, "sqlite", "file:"+filepath.Join(t.TempDir(), "seed.db"), true, "", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	models, err := loadSeedFile(strings.NewReader(sampleSeed))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := seedModels(ctx, store, models, false); err != nil {
		t.Fatalf("seed empty store: %v", err)
	}
	if _, err := seedModels(ctx, store, models[:1], false); !errors.Is(err, errListNotEmpty) {
		t.Fatalf("expected errListNotEmpty, got %v", err)
	}
	version, err := seedModels(ctx, store, models[:1], true)
	if err != nil {
		t.Fatalf("forced seed: %v", err)
	}
	list, err := store.Models(ctx)
	if err != nil {
		t.Fatalf("models: %v", err)
	}
	if len(list.Models) != 1 || list.Version != version {
		t.Fatalf("unexpected list %+v (version %d)", list, version)
	}
}

func TestReadPassword(t *testing.T) {
	for in, want := range map[string]string{"s3cret\n": "s3cret", "s3cret\r\nextra": "s3cret", "nolf": "nolf", "": ""} {
		got, err := readPassword(strings.NewReader(in))
		if err != nil || got != want {
			t.Fatalf("%q: expected %q, got %q err=%v", in, want, got, err)
		}
	}
}

type plainRepo struct{ storage.Repository }

func TestResealKeys(t *testing.T) {
	ctx := context.Background()
	mgr, err := crypto.NewManager("k1", map[string][]byte{"k1": make([]byte, 32)})
	if err != nil {
		t.Fatalf("crypto manager: %v", err)
	}
	store, err := storage.Open(ctx, "sqlite", "file:"+filepath.Join(t.TempDir(), "reseal.db"), true, "", mgr)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	models, err := loadSeedFile(strings.NewReader(sampleSeed))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := seedModels(ctx, store, models, false); err != nil {
		t.Fatalf("seed: %v", err)
	}
	st, err := resealKeys(ctx, store)
	if err != nil {
		t.Fatalf("reseal: %v", err)
	}
	if st.Resealed != 1 || st.Plaintext != 0 {
		t.Fatalf("unexpected stats %+v", st)
	}

	if _, err := resealKeys(ctx, plainRepo{store}); err == nil {
		t.Fatal("expected an error for a store that cannot reseal")
	}
}
