package store

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/nerrad567/domo-bridge/internal/bridges/algodomo"
	"github.com/nerrad567/domo-bridge/internal/entity"
)

// ConfigStore holds the current entity configuration and persists it
// to config.json.
//
// The document is replaced atomically on POST: readers that captured a
// reference before the swap keep observing the old snapshot until
// their request ends. Returned documents must be treated as immutable.
type ConfigStore struct {
	path string

	mu  sync.RWMutex
	doc *entity.Document
}

// OpenConfig loads the configuration from path.
//
// A missing file seeds the default document and persists it, so the
// first start leaves a valid config.json behind. The loaded document
// is normalised before use.
func OpenConfig(path string) (*ConfigStore, error) {
	s := &ConfigStore{path: path}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		doc, parseErr := entity.ParseDocument(data)
		if parseErr != nil {
			return nil, fmt.Errorf("loading %s: %w", path, parseErr)
		}
		s.doc = doc
	case errors.Is(err, os.ErrNotExist):
		s.doc = entity.DefaultDocument()
		if persistErr := s.persist(s.doc); persistErr != nil {
			return nil, persistErr
		}
	default:
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	return s, nil
}

// Get returns the current document snapshot.
func (s *ConfigStore) Get() *entity.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc
}

// Replace persists doc and swaps it in as the current configuration.
// On persistence failure the previous document stays in force.
func (s *ConfigStore) Replace(doc *entity.Document) error {
	if err := s.persist(doc); err != nil {
		return err
	}

	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()
	return nil
}

// persist writes the document with temp-file-then-rename.
func (s *ConfigStore) persist(doc *entity.Document) error {
	data, err := marshalDocument(doc)
	if err != nil {
		return err
	}
	return writeFileAtomic(s.path, data)
}

// GatewaySettings adapts the current document to the gateway client's
// settings source.
func (s *ConfigStore) GatewaySettings() algodomo.Settings {
	doc := s.Get()
	return algodomo.Settings{
		Host:    doc.Gateway.Host,
		Port:    doc.Gateway.Port,
		Timeout: time.Duration(doc.Gateway.TimeoutMs) * time.Millisecond,
	}
}
