package crypto

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSealOpen(t *testing.T) {
	blob, err := Seal("s3cr3t-api-key\n", "hunter2", "binance:live")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	got, err := Open(blob, "hunter2", "binance:live")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got != "s3cr3t-api-key" {
		t.Errorf("got %q", got)
	}

	if _, err := Open(blob, "wrong", "binance:live"); err == nil {
		t.Error("expected error with wrong password")
	}
	if _, err := Open(blob, "hunter2", "binance:testnet"); !errors.Is(err, ErrAccountMismatch) {
		t.Errorf("other account err = %v, want ErrAccountMismatch", err)
	}
}

func TestOpen_RelabelledFileFails(t *testing.T) {
	blob, err := Seal("k", "pw", "binance:testnet")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	forged := []byte(strings.Replace(string(blob), `"binance:testnet"`, `"binance:live"`, 1))
	if _, err := Open(forged, "pw", "binance:live"); err == nil {
		t.Error("relabelled file opened; account must be bound to the ciphertext")
	}
}

func TestSeal_Validation(t *testing.T) {
	if _, err := Seal("x", "", "a"); err == nil {
		t.Error("empty password should fail")
	}
	if _, err := Seal("  ", "pw", "a"); err == nil {
		t.Error("blank secret should fail")
	}
	if _, err := Seal("x", "pw", ""); err == nil {
		t.Error("empty account should fail")
	}
	if _, err := Open([]byte(`{"version":9}`), "pw", "a"); err == nil {
		t.Error("unknown version should fail")
	}
}

func TestLoadSecret(t *testing.T) {
	got, err := LoadSecret(SecretConfig{Raw: " raw \n", SealedPath: "/does/not/exist"})
	if err != nil || got != "raw" {
		t.Errorf("raw = %q, %v", got, err)
	}
	if got, err := LoadSecret(SecretConfig{}); err != nil || got != "" {
		t.Errorf("empty = %q, %v", got, err)
	}

	account := AccountLabel("binance", "live")
	blob, err := Seal("from-file", "pw", account)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	path := filepath.Join(t.TempDir(), "secret.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatal(err)
	}
	got, err = LoadSecret(SecretConfig{Account: account, SealedPath: path, Password: "pw"})
	if err != nil || got != "from-file" {
		t.Errorf("file = %q, %v", got, err)
	}

	if err := os.Chmod(path, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSecret(SecretConfig{Account: account, SealedPath: path, Password: "pw"}); !errors.Is(err, ErrInsecureFile) {
		t.Errorf("world-readable err = %v, want ErrInsecureFile", err)
	}
}
