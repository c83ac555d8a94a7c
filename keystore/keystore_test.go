package keystore_test

import (
	"path/filepath"
	"testing"

	"github.com/tolelom/ledgerd/crypto"
	"github.com/tolelom/ledgerd/keystore"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "validator.key")

	if err := keystore.Save(path, "correct horse battery staple", priv); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := keystore.Load(path, "correct horse battery staple")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(loaded) != string(priv) {
		t.Fatal("loaded key does not match saved key")
	}
}

func TestLoadWithWrongPasswordFails(t *testing.T) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "validator.key")
	if err := keystore.Save(path, "right-password", priv); err != nil {
		t.Fatal(err)
	}
	if _, err := keystore.Load(path, "wrong-password"); err == nil {
		t.Fatal("expected an error loading with the wrong password")
	}
}
