package config

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"

	"github.com/joho/godotenv"
)

// Credentials is an env-style key/value store handed explicitly to the scanner and transport.
type Credentials map[string]string

// LoadCredentials reads an env file; a missing file yields an empty store.
func LoadCredentials(path string) (Credentials, error) {
	if path == "" {
		return Credentials{}, nil
	}
	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Credentials{}, nil
		}
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	return Credentials(values), nil
}

// Has reports whether every key is present with a non-empty value.
func (c Credentials) Has(keys ...string) bool {
	if len(keys) == 0 {
		return false
	}
	for _, k := range keys {
		if c[k] == "" {
			return false
		}
	}
	return true
}

// Subset copies the named keys into a fresh map.
func (c Credentials) Subset(keys ...string) map[string]string {
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := c[k]; ok {
			out[k] = v
		}
	}
	return out
}

// Keys returns the stored key names, sorted.
func (c Credentials) Keys() []string {
	out := make([]string, 0, len(c))
	for k := range c {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
