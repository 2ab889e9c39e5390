package keyset

import (
	"bytes"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/river-now/lazycell/kit/envcell"
)

// Helper function to create a valid base64-encoded 32-byte secret
func generateTestSecret(seed byte) string {
	secret := make([]byte, KeySize)
	for i := range secret {
		secret[i] = byte(i) + seed
	}
	return base64.StdEncoding.EncodeToString(secret)
}

// Helper function to create a test Key32
func generateTestKey32(seed byte) Key32 {
	var key [KeySize]byte
	for i := range key {
		key[i] = byte(i) + seed
	}
	return &key
}

func TestAttempt(t *testing.T) {
	successKey := generateTestKey32(1)
	failKey := generateTestKey32(2)
	match := func(k Key32) (string, error) {
		if bytes.Equal(k[:], successKey[:]) {
			return "success", nil
		}
		return "", errors.New("wrong key")
	}

	tests := []struct {
		name      string
		keyset    Keyset
		wantValue string
		wantErr   bool
	}{
		{name: "empty keyset", keyset: Keyset{}, wantErr: true},
		{name: "nil key in keyset", keyset: Keyset{nil}, wantErr: true},
		{name: "first key succeeds", keyset: Keyset{successKey, failKey}, wantValue: "success"},
		{name: "fallback to second key", keyset: Keyset{failKey, successKey}, wantValue: "success"},
		{name: "skips nil key", keyset: Keyset{nil, successKey}, wantValue: "success"},
		{name: "all keys fail", keyset: Keyset{failKey, failKey}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Attempt(tt.keyset, match)
			if (err != nil) != tt.wantErr {
				t.Errorf("Attempt() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && result != tt.wantValue {
				t.Errorf("Attempt() result = %v, want %v", result, tt.wantValue)
			}
		})
	}
}

func TestKeyset_HKDF(t *testing.T) {
	ks := Keyset{generateTestKey32(1), generateTestKey32(2)}

	a, err := ks.HKDF([]byte("salt"), "purpose-a")
	if err != nil {
		t.Fatalf("HKDF() error = %v", err)
	}
	if len(a) != 2 {
		t.Fatalf("expected 2 derived keys, got %d", len(a))
	}
	again, _ := ks.HKDF([]byte("salt"), "purpose-a")
	if !bytes.Equal(a[0][:], again[0][:]) {
		t.Error("HKDF should be deterministic")
	}
	b, _ := ks.HKDF([]byte("salt"), "purpose-b")
	if bytes.Equal(a[0][:], b[0][:]) {
		t.Error("different purposes should derive different keys")
	}
	if bytes.Equal(a[0][:], ks[0][:]) {
		t.Error("derived key should differ from root key")
	}

	if _, err := (Keyset{}).HKDF(nil, "x"); err == nil {
		t.Error("expected error for empty keyset")
	}
	if _, err := ks.HKDF(nil, ""); err == nil {
		t.Error("expected error for empty info")
	}
	if _, err := (Keyset{nil}).HKDF(nil, "x"); err == nil {
		t.Error("expected error for nil root key")
	}
}

func TestRootSecretsToRootKeyset(t *testing.T) {
	tests := []struct {
		name    string
		secrets RootSecrets
		wantErr bool
	}{
		{name: "empty", secrets: RootSecrets{}, wantErr: true},
		{name: "valid", secrets: RootSecrets{RootSecret(generateTestSecret(0))}},
		{name: "invalid base64", secrets: RootSecrets{"invalid-base64!"}, wantErr: true},
		{name: "wrong size", secrets: RootSecrets{RootSecret(base64.StdEncoding.EncodeToString([]byte("short")))}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ks, err := RootSecretsToRootKeyset(tt.secrets)
			if (err != nil) != tt.wantErr {
				t.Errorf("RootSecretsToRootKeyset() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && len(ks) != len(tt.secrets) {
				t.Errorf("expected %d keys, got %d", len(tt.secrets), len(ks))
			}
		})
	}
}

func TestLoadRootSecrets(t *testing.T) {
	t.Setenv("TEST_SECRET_1", generateTestSecret(1))
	t.Setenv("TEST_SECRET_2", generateTestSecret(2))

	tests := []struct {
		name    string
		envVars []string
		wantErr bool
		wantLen int
	}{
		{name: "no env vars", envVars: []string{}, wantErr: true},
		{name: "single valid env var", envVars: []string{"TEST_SECRET_1"}, wantLen: 1},
		{name: "multiple valid env vars", envVars: []string{"TEST_SECRET_1", "TEST_SECRET_2"}, wantLen: 2},
		{name: "empty env var name", envVars: []string{""}, wantErr: true},
		{name: "non-existent env var", envVars: []string{"DOES_NOT_EXIST"}, wantErr: true},
		{name: "mix of valid and invalid", envVars: []string{"TEST_SECRET_1", "DOES_NOT_EXIST"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			secrets, err := LoadRootSecrets(tt.envVars...)
			if (err != nil) != tt.wantErr {
				t.Errorf("LoadRootSecrets() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && len(secrets) != tt.wantLen {
				t.Errorf("expected %d secrets, got %d", tt.wantLen, len(secrets))
			}
		})
	}
}

func TestApplicationKeyset(t *testing.T) {
	t.Run("invalid config", func(t *testing.T) {
		if _, err := (&ApplicationKeyset{ApplicationName: "app"}).ScopedGetter("p"); err == nil {
			t.Error("expected error for empty env var names")
		}
		if _, err := (&ApplicationKeyset{LatestFirstEnvVarNames: []string{"X"}}).ScopedGetter("p"); err == nil {
			t.Error("expected error for empty application name")
		}
		k := &ApplicationKeyset{LatestFirstEnvVarNames: []string{"X"}, ApplicationName: "app"}
		if _, err := k.ScopedGetter(""); err == nil {
			t.Error("expected error for empty purpose")
		}
	})

	t.Run("panic on missing secret", func(t *testing.T) {
		k := &ApplicationKeyset{LatestFirstEnvVarNames: []string{"DOES_NOT_EXIST"}, ApplicationName: "app"}
		get := k.ScopedGetterMust("cookies")
		defer func() {
			if recover() == nil {
				t.Error("expected panic when secrets are missing")
			}
		}()
		get()
	})

	t.Run("scoped keys are cached and distinct", func(t *testing.T) {
		t.Setenv("TEST_APP_SECRET", generateTestSecret(3))
		k := &ApplicationKeyset{LatestFirstEnvVarNames: []string{"TEST_APP_SECRET"}, ApplicationName: "app"}

		cookies := k.ScopedGetterMust("cookies")
		csrf := k.ScopedGetterMust("csrf")
		c1, c2 := cookies(), cookies()
		if c1[0] != c2[0] {
			t.Error("expected cached derived keyset between calls")
		}
		if bytes.Equal(c1[0][:], csrf()[0][:]) {
			t.Error("expected different purposes to derive different keys")
		}
	})
}

func TestApplicationKeyset_Rotate(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	writeSecrets := func(content string) {
		if err := os.WriteFile(envFile, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	writeSecrets("ROTATE_CURRENT=" + generateTestSecret(10) + "\n")

	k := &ApplicationKeyset{
		LatestFirstEnvVarNames: []string{"ROTATE_CURRENT"},
		ApplicationName:        "app",
		Env:                    envcell.New(envcell.Options{Files: []string{envFile}}),
	}
	get, err := k.ScopedGetter("sessions")
	if err != nil {
		t.Fatal(err)
	}
	before, err := get()
	if err != nil {
		t.Fatalf("get() error = %v", err)
	}

	writeSecrets("ROTATE_CURRENT=" + generateTestSecret(20) + "\n")
	stale, _ := get()
	if !bytes.Equal(before[0][:], stale[0][:]) {
		t.Error("keys should not change before Rotate")
	}

	k.Rotate()
	after, err := get()
	if err != nil {
		t.Fatalf("get() error = %v", err)
	}
	if bytes.Equal(before[0][:], after[0][:]) {
		t.Error("expected new derived keys after Rotate")
	}
	root, err := k.Root()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(root[0][:], generateTestKey32(20)[:]) {
		t.Error("expected root keyset to hold the rotated secret")
	}
}
