// Package envcell reads dotenv files lazily and keeps the result in a
// resettable cell, so configuration can be reloaded without restarting.
package envcell

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"

	"github.com/joho/godotenv"
	"github.com/river-now/lazycell/kit/colorlog"
	"github.com/river-now/lazycell/kit/lazycell"
)

const defaultFile = ".env"

type Options struct {
	// Dotenv files, read in order. The first file to define a key wins.
	// Defaults to ".env".
	Files []string
	// When true, dotenv values take precedence over the process environment.
	Overload bool
	// When true, missing files are skipped instead of failing the load.
	Optional bool
	// Receives load errors swallowed by Get. Defaults to a colorlog
	// logger labeled "envcell".
	Logger *slog.Logger
}

type Env struct {
	opts Options
	log  *slog.Logger
	vars *lazycell.Cell[map[string]string]
}

func New(opts Options) *Env {
	if len(opts.Files) == 0 {
		opts.Files = []string{defaultFile}
	}
	log := opts.Logger
	if log == nil {
		log = colorlog.New("envcell")
	}
	e := &Env{opts: opts, log: log}
	e.vars = lazycell.NewWithError(e.load)
	return e
}

func (e *Env) load() (map[string]string, error) {
	merged := make(map[string]string)
	for _, file := range e.opts.Files {
		vals, err := godotenv.Read(file)
		if err != nil {
			if e.opts.Optional && errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("error reading env file %s: %w", file, err)
		}
		for k, v := range vals {
			if _, ok := merged[k]; !ok {
				merged[k] = v
			}
		}
	}
	return merged, nil
}

// Lookup returns the value for key from the process environment or the
// dotenv files, following Options.Overload. The error is non-nil only if
// the dotenv files could not be read.
func (e *Env) Lookup(key string) (string, bool, error) {
	if !e.opts.Overload {
		if v, ok := os.LookupEnv(key); ok {
			return v, true, nil
		}
	}
	vars, err := e.vars.Read()
	if err != nil {
		return "", false, err
	}
	if v, ok := vars[key]; ok {
		return v, true, nil
	}
	if e.opts.Overload {
		v, ok := os.LookupEnv(key)
		return v, ok, nil
	}
	return "", false, nil
}

// Get returns the value for key, or "" if it is unset or the files could
// not be read. Read errors are logged.
func (e *Env) Get(key string) string {
	v, _, err := e.Lookup(key)
	if err != nil {
		e.log.Error(fmt.Sprintf("error: env lookup of %s: %v", key, err))
	}
	return v
}

func (e *Env) MustGet(key string) string {
	v, ok, err := e.Lookup(key)
	if err != nil {
		panic(fmt.Sprintf("error loading env: %v", err))
	}
	if !ok {
		panic(fmt.Sprintf("env var %s is not set", key))
	}
	return v
}

// Set overrides a dotenv value in memory until the next Reload. It loads
// the files first if they have not been read yet. The map is replaced
// rather than written in place since readers hold it outside the lock.
func (e *Env) Set(key, value string) error {
	return e.vars.Mutate(func(vars *map[string]string) error {
		next := maps.Clone(*vars)
		next[key] = value
		*vars = next
		return nil
	})
}

// Snapshot returns a copy of the values read from the dotenv files.
func (e *Env) Snapshot() (map[string]string, error) {
	vars, err := e.vars.Read()
	if err != nil {
		return nil, err
	}
	return maps.Clone(vars), nil
}

// Reload discards the cached files; they are read again on next access.
func (e *Env) Reload() {
	e.vars.Reset()
}

// Reset is Reload, so an Env can be bound to a file watcher.
func (e *Env) Reset() {
	e.Reload()
}
