package filter

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mohae/deepcopy"
	"gopkg.in/yaml.v3"
)

// Holder owns the live FilterSet. Readers get deep copies so a caller can
// never mutate the set another goroutine is evaluating.
type Holder struct {
	// notify serializes Set so hooks observe sets in the order they were
	// stored. Hooks must not call Set.
	notify   sync.Mutex
	mu       sync.RWMutex
	set      FilterSet
	onChange []func(FilterSet)
}

// NewHolder returns a Holder seeded with initial.
func NewHolder(initial FilterSet) *Holder {
	return &Holder{set: copySet(initial)}
}

func copySet(f FilterSet) FilterSet {
	return deepcopy.Copy(f).(FilterSet)
}

// Get returns a copy of the current set.
func (h *Holder) Get() FilterSet {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return copySet(h.set)
}

// Set validates and replaces the current set, then runs the change hooks.
func (h *Holder) Set(f FilterSet) error {
	if err := f.Validate(); err != nil {
		return err
	}

	h.notify.Lock()
	defer h.notify.Unlock()

	h.mu.Lock()
	h.set = copySet(f)
	hooks := append([]func(FilterSet){}, h.onChange...)
	h.mu.Unlock()

	for _, fn := range hooks {
		fn(copySet(f))
	}
	return nil
}

// OnChange registers fn to run after every successful Set.
func (h *Holder) OnChange(fn func(FilterSet)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChange = append(h.onChange, fn)
}

// LoadFile reads a YAML FilterSet.
func LoadFile(path string) (FilterSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FilterSet{}, fmt.Errorf("failed to read filter file: %w", err)
	}

	var f FilterSet
	if err := yaml.Unmarshal(data, &f); err != nil {
		return FilterSet{}, fmt.Errorf("failed to unmarshal filter yaml: %w", err)
	}
	if err := f.Validate(); err != nil {
		return FilterSet{}, err
	}
	return f, nil
}

// SaveFile writes f as YAML, replacing path atomically.
func SaveFile(path string, f FilterSet) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal filter yaml: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".filters-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write filter file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write filter file: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
