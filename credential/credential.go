// Package credential implements the file-backed credential collaborator.
// It loads the OAuth bundle document from disk and resolves the effective
// bundle for a request: an explicit bundle on the request wins, otherwise
// the on-disk document is used if still valid.
package credential

import (
	"fmt"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/hupe1980/agentrelay/core"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Load reads and parses a credential bundle document from path.
func Load(path string) (*core.CredentialBundle, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}
	var bundle core.CredentialBundle
	if err := json.Unmarshal(raw, &bundle); err != nil {
		return nil, fmt.Errorf("parse credentials file: %w", err)
	}
	return &bundle, nil
}

// Source resolves credentials for a request from an optional on-disk
// document. It is safe for concurrent use: the file is re-read per resolve
// so external refreshes are picked up without restarting.
type Source struct {
	path string
	now  func() time.Time
}

// NewSource creates a Source backed by the document at path. An empty path
// yields a source that only honors per-request bundles.
func NewSource(path string) *Source {
	return &Source{path: path, now: time.Now}
}

// Resolve returns the effective bundle for a request, or nil when neither
// the request nor the file provides a valid one. Invalid or expired bundles
// are treated as absent, never as errors.
func (s *Source) Resolve(override *core.CredentialBundle) *core.CredentialBundle {
	now := s.now()
	if override.Valid(now) {
		return override
	}
	if s.path == "" {
		return nil
	}
	bundle, err := Load(s.path)
	if err != nil {
		return nil
	}
	if !bundle.Valid(now) {
		return nil
	}
	return bundle
}
