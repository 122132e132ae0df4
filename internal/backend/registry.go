package backend

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goosewin/glot/internal/apperr"
)

var (
	ErrBackendNotFound   = errors.New("backend not found")
	ErrBackendRegistered = errors.New("backend already registered")
	ErrBackendInvalid    = errors.New("backend name is required")
)

// Descriptor describes how to construct a backend.
type Descriptor struct {
	Name               string
	DefaultModel       string
	DefaultBaseURL     string
	CredentialEnv      string
	RequiresCredential bool
	New                func(Options) (Backend, error)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Descriptor{}
)

// Register adds a backend descriptor to the registry by name.
func Register(desc Descriptor) error {
	if strings.TrimSpace(desc.Name) == "" {
		return ErrBackendInvalid
	}
	if desc.New == nil {
		return errors.New("backend constructor is nil")
	}

	key := normalizeName(desc.Name)
	desc.Name = key
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[key]; exists {
		return ErrBackendRegistered
	}

	registry[key] = desc
	return nil
}

// MustRegister is Register for package init functions.
func MustRegister(desc Descriptor) {
	if err := Register(desc); err != nil {
		panic(fmt.Sprintf("register backend %q: %v", desc.Name, err))
	}
}

// Lookup returns a descriptor by name.
func Lookup(name string) (Descriptor, bool) {
	key := normalizeName(name)
	if key == "" {
		return Descriptor{}, false
	}

	registryMu.RLock()
	defer registryMu.RUnlock()

	desc, ok := registry[key]
	return desc, ok
}

// Names returns all registered backend names.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultName returns the default backend name.
func DefaultName() string {
	return "groq"
}

// Open constructs the named backend. The credential is checked here, before
// the constructor runs, so a missing key never reaches the network.
func Open(name string, opts Options) (Backend, error) {
	desc, ok := Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBackendNotFound, name)
	}
	if desc.RequiresCredential {
		if err := apperr.RequireCredential(desc.Name, opts.APIKey, desc.CredentialEnv); err != nil {
			return nil, err
		}
	}
	return desc.New(opts.WithDefaults(desc))
}

func unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, normalizeName(name))
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
