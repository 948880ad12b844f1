// Package remote defines the transport contract used to pull product data
// from a remote_url, and its ordered plug-in registry. Identification runs
// in registration order; the first transport that accepts a URL wins.
package remote

import (
	"context"
	"sync"

	"github.com/muninn-archive/muninn/internal/config"
	"github.com/muninn-archive/muninn/internal/errs"
	"github.com/muninn-archive/muninn/internal/properties"
)

// Backend downloads product data for one URL scheme family.
type Backend interface {
	// Identify reports whether this transport handles url.
	Identify(url string) bool
	// Pull downloads the product into targetDir and returns the downloaded
	// paths.
	Pull(ctx context.Context, creds config.Credentials, props properties.Properties, targetDir string) ([]string, error)
}

// Plugin is a named transport.
type Plugin struct {
	Name    string
	Backend Backend
}

var (
	mu      sync.RWMutex
	ordered []Plugin
)

// Register appends a transport; duplicate names panic. Registration order
// is identification order.
func Register(p Plugin) {
	mu.Lock()
	defer mu.Unlock()
	for _, q := range ordered {
		if q.Name == p.Name {
			panic("remote plugin registered twice: " + p.Name)
		}
	}
	ordered = append(ordered, p)
}

// Identify returns the first registered transport accepting url.
func Identify(url string) (Backend, error) {
	mu.RLock()
	defer mu.RUnlock()
	for _, p := range ordered {
		if p.Backend.Identify(url) {
			return p.Backend, nil
		}
	}
	return nil, errs.State("no remote backend for url %q", url)
}

// Names returns the transport names in registration order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, len(ordered))
	for i, p := range ordered {
		out[i] = p.Name
	}
	return out
}
