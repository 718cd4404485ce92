// Package credential implements the named API-key store:
// key_id -> secret_value plus a single active_key_id, persisted as
// api_keys.json. Grounded on the original_source APIKeyManager (add/update,
// delete-clears-active, set-active, legacy single-env-var fallback on first
// boot) and on the teacher's config-store locking idiom (RWMutex, write
// persists before the call returns).
package credential

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store is a lock-guarded, disk-persisted set of named API keys with one
// active selection.
type Store struct {
	mu     sync.RWMutex
	path   string
	keys   map[string]string
	active string
}

type persisted struct {
	Keys        map[string]string `json:"keys"`
	ActiveKeyID string            `json:"active_key_id"`
}

// Open loads api_keys.json from path if present. If the file does not
// exist and the legacy API_KEY environment variable is set, a single key
// named "default" is seeded and persisted (matching the source's
// first-boot fallback), so a fresh deployment started only with API_KEY
// still has a usable active credential.
func Open(path string) (*Store, error) {
	s := &Store{path: path, keys: map[string]string{}}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var p persisted
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("credential: parse %s: %w", path, err)
		}
		if p.Keys == nil {
			p.Keys = map[string]string{}
		}
		s.keys = p.Keys
		s.active = p.ActiveKeyID
	case os.IsNotExist(err):
		if legacy := os.Getenv("API_KEY"); legacy != "" {
			s.keys["default"] = legacy
			s.active = "default"
			if err := s.persistLocked(); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("credential: read %s: %w", path, err)
	}
	return s, nil
}

// Active returns the currently selected key's secret value. The second
// return value is false when no key is active, which the caller (the HTTP
// handler) turns into proxyerr.KindCredentialMissing / HTTP 401 rather than
// attempting the upstream call.
func (s *Store) Active() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == "" {
		return "", false
	}
	v, ok := s.keys[s.active]
	return v, ok
}

// ActiveKeyID returns the id of the active key, or "" if none is active.
func (s *Store) ActiveKeyID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Set adds or updates a named key and persists the store.
func (s *Store) Set(id, secret string) error {
	if id == "" {
		return fmt.Errorf("credential: key id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[id] = secret
	return s.persistLocked()
}

// Delete removes a named key. If it was the active key, the active
// selection is cleared.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, id)
	if s.active == id {
		s.active = ""
	}
	return s.persistLocked()
}

// SetActive selects id as the active credential. Returns an error if id is
// not a known key.
func (s *Store) SetActive(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[id]; !ok {
		return fmt.Errorf("credential: unknown key id %q", id)
	}
	s.active = id
	return s.persistLocked()
}

// IDs returns every known key id, in no particular order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.keys))
	for id := range s.keys {
		out = append(out, id)
	}
	return out
}

func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("credential: mkdir: %w", err)
	}
	data, err := json.MarshalIndent(persisted{Keys: s.keys, ActiveKeyID: s.active}, "", "  ")
	if err != nil {
		return fmt.Errorf("credential: marshal: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("credential: write %s: %w", s.path, err)
	}
	return nil
}
