package keyset

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/river-now/lazycell/kit/lazycell"
	"golang.org/x/crypto/hkdf"
)

const KeySize = 32

type Key32 = *[KeySize]byte

// Base64-encoded 32-byte root secret.
// You can generate new root secrets using the following command:
// `openssl rand -base64 32`.
type RootSecret string

// Latest-first slice of base64-encoded 32-byte root secrets.
// You can generate new root secrets using the following command:
// `openssl rand -base64 32`.
type RootSecrets []RootSecret

// Latest-first slice of size 32 byte array pointers
type Keyset []Key32

// Source looks up secrets by name. *envcell.Env satisfies it.
type Source interface {
	Lookup(key string) (string, bool, error)
}

type processEnv struct{}

func (processEnv) Lookup(key string) (string, bool, error) {
	v, ok := os.LookupEnv(key)
	return v, ok, nil
}

type ApplicationKeyset struct {
	// Provide a latest-first slice of environment variable names pointing
	// to base64-encoded 32-byte root secrets.
	// Example: []string{"CURRENT_SECRET", "PREVIOUS_SECRET"}
	LatestFirstEnvVarNames []string
	// Used as the HKDF salt param when creating scoped keysets.
	ApplicationName string
	// Where secrets are read from. Defaults to the process environment.
	Env Source

	once sync.Once
	root *lazycell.Cell[Keyset]
}

func (k *ApplicationKeyset) source() Source {
	if k.Env == nil {
		return processEnv{}
	}
	return k.Env
}

func (k *ApplicationKeyset) rootCell() *lazycell.Cell[Keyset] {
	k.once.Do(func() {
		k.root = lazycell.NewWithError(func() (Keyset, error) {
			return LoadRootKeysetFrom(k.source(), k.LatestFirstEnvVarNames...)
		})
	})
	return k.root
}

func (k *ApplicationKeyset) validate() error {
	if len(k.LatestFirstEnvVarNames) == 0 {
		return fmt.Errorf("ApplicationKeyset.LatestFirstEnvVarNames must not be empty")
	}
	if k.ApplicationName == "" {
		return fmt.Errorf("ApplicationKeyset.ApplicationName must not be empty")
	}
	return nil
}

// Root returns the root keyset, loading it on first use.
func (k *ApplicationKeyset) Root() (Keyset, error) {
	if err := k.validate(); err != nil {
		return nil, err
	}
	return k.rootCell().Read()
}

// Rotate drops the loaded root keyset so the next access re-reads the
// secrets. If Env can be reset (as *envcell.Env can), it is reset too.
// Scoped getters notice the rotation and re-derive on their next call.
func (k *ApplicationKeyset) Rotate() {
	if r, ok := k.Env.(interface{ Reset() }); ok {
		r.Reset()
	}
	k.rootCell().Reset()
}

type scopedKeyset struct {
	gen  uint64
	keys Keyset
}

// Returns a getter function that returns a Keyset derived from the root
// keyset using HKDF with the instance's ApplicationName and the provided
// purpose string. The ApplicationName is used as the HKDF salt param, and
// the purpose string is used as the HKDF info param. Derived keys are
// cached until the next Rotate.
func (k *ApplicationKeyset) ScopedGetter(purpose string) (func() (Keyset, error), error) {
	if err := k.validate(); err != nil {
		return nil, err
	}
	if purpose == "" {
		return nil, fmt.Errorf("purpose must not be empty")
	}
	root := k.rootCell()
	derived := lazycell.NewWithError(func() (scopedKeyset, error) {
		gen := root.Generation()
		rk, err := root.Read()
		if err != nil {
			return scopedKeyset{}, err
		}
		ks, err := rk.HKDF([]byte(k.ApplicationName), purpose)
		if err != nil {
			return scopedKeyset{}, err
		}
		return scopedKeyset{gen: gen, keys: ks}, nil
	})
	return func() (Keyset, error) {
		s, err := derived.Read()
		if err != nil {
			return nil, err
		}
		if s.gen != root.Generation() {
			derived.Reset()
			if s, err = derived.Read(); err != nil {
				return nil, err
			}
		}
		return s.keys, nil
	}, nil
}

// ScopedGetterMust is ScopedGetter, but it panics if anything is
// misconfigured, including when the secrets cannot be loaded.
func (k *ApplicationKeyset) ScopedGetterMust(purpose string) func() Keyset {
	get, err := k.ScopedGetter(purpose)
	if err != nil {
		panic(fmt.Sprintf("error creating scoped keyset getter: %v", err))
	}
	return func() Keyset {
		ks, err := get()
		if err != nil {
			panic(fmt.Sprintf("error loading scoped keyset: %v", err))
		}
		return ks
	}
}

// Attempt runs the provided function for each key in the keyset
// until either (i) an attempt does not return an error (meaning
// it succeeded) or (ii) all keys have been attempted. This is
// useful when you want to fallback to a prior key if the current
// key fails due to a recent rotation.
func Attempt[R any](keyset Keyset, f func(Key32) (R, error)) (R, error) {
	if len(keyset) == 0 {
		return *new(R), fmt.Errorf("keyset is empty")
	}
	var lastErr error
	for i, k := range keyset {
		if k == nil {
			lastErr = fmt.Errorf("key %d is nil", i)
			continue
		}
		result, err := f(k)
		if err == nil {
			return result, nil
		}
		lastErr = err
	}
	return *new(R), lastErr
}

// Keyset.HKDF applies HKDF-SHA256 to each key in the base Keyset using
// the provided salt and info string, returning a new Keyset consisting
// of the derived keys.
func (ks Keyset) HKDF(salt []byte, info string) (Keyset, error) {
	if len(ks) == 0 {
		return nil, fmt.Errorf("root keyset is empty")
	}
	if info == "" {
		return nil, fmt.Errorf("info must not be empty")
	}
	derivedKeys := make(Keyset, 0, len(ks))
	for i, rootKey := range ks {
		if rootKey == nil {
			return nil, fmt.Errorf("root key %d is nil", i)
		}
		var dk [KeySize]byte
		r := hkdf.New(sha256.New, rootKey[:], salt, []byte(info))
		if _, err := io.ReadFull(r, dk[:]); err != nil {
			return nil, fmt.Errorf("error deriving key from root key %d: %w", i, err)
		}
		derivedKeys = append(derivedKeys, &dk)
	}
	return derivedKeys, nil
}

// Pass in a latest-first slice of environment variable names pointing
// to base64-encoded 32-byte root secrets.
// Example: LoadRootKeyset("CURRENT_SECRET", "PREVIOUS_SECRET")
func LoadRootKeyset(envVarNames ...string) (Keyset, error) {
	return LoadRootKeysetFrom(processEnv{}, envVarNames...)
}

// LoadRootKeysetFrom is LoadRootKeyset reading from src.
func LoadRootKeysetFrom(src Source, envVarNames ...string) (Keyset, error) {
	rootSecrets, err := LoadRootSecretsFrom(src, envVarNames...)
	if err != nil {
		return nil, fmt.Errorf("error loading root secrets: %w", err)
	}
	keyset, err := RootSecretsToRootKeyset(rootSecrets)
	if err != nil {
		return nil, fmt.Errorf("error converting root secrets to keyset: %w", err)
	}
	return keyset, nil
}

// RootSecretsToRootKeyset converts a slice of base64-encoded root
// secrets into a Keyset.
func RootSecretsToRootKeyset(rootSecrets RootSecrets) (Keyset, error) {
	if len(rootSecrets) == 0 {
		return nil, fmt.Errorf("at least 1 root secret is required")
	}
	keys := make(Keyset, 0, len(rootSecrets))
	for i, secret := range rootSecrets {
		secretBytes, err := base64.StdEncoding.DecodeString(string(secret))
		if err != nil {
			return nil, fmt.Errorf("error decoding base64 secret %d: %w", i, err)
		}
		if len(secretBytes) != KeySize {
			return nil, fmt.Errorf("secret %d is not 32 bytes", i)
		}
		keys = append(keys, Key32(secretBytes))
	}
	return keys, nil
}

// Pass in a latest-first slice of environment variable names pointing
// to base64-encoded 32-byte root secrets.
// Example: LoadRootSecrets("CURRENT_SECRET", "PREVIOUS_SECRET")
func LoadRootSecrets(envVarNames ...string) (RootSecrets, error) {
	return LoadRootSecretsFrom(processEnv{}, envVarNames...)
}

// LoadRootSecretsFrom is LoadRootSecrets reading from src.
func LoadRootSecretsFrom(src Source, envVarNames ...string) (RootSecrets, error) {
	if len(envVarNames) == 0 {
		return nil, fmt.Errorf("at least 1 env var key is required")
	}
	rootSecrets := make(RootSecrets, 0, len(envVarNames))
	for i, name := range envVarNames {
		if name == "" {
			return nil, fmt.Errorf("env var key %d is empty", i)
		}
		secret, ok, err := src.Lookup(name)
		if err != nil {
			return nil, fmt.Errorf("error looking up %s: %w", name, err)
		}
		if !ok || secret == "" {
			return nil, fmt.Errorf("env var %s is not set", name)
		}
		rootSecrets = append(rootSecrets, RootSecret(secret))
	}
	return rootSecrets, nil
}
