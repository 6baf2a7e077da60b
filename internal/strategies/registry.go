package strategies

import (
	"fmt"
	"sync"
)

// Registry maps strategy identifiers from chain configuration to statically
// linked implementations. Chains reference strategies by name only.
type Registry struct {
	mu          sync.RWMutex
	scans       map[string]ScanStrategy
	validations map[string]ValidationStrategy
	namings     map[string]NamingStrategy
	generations map[string]GenerationStrategy
	postProcess map[string]PostProcessStrategy
}

func NewRegistry() *Registry {
	return &Registry{
		scans:       make(map[string]ScanStrategy),
		validations: make(map[string]ValidationStrategy),
		namings:     make(map[string]NamingStrategy),
		generations: make(map[string]GenerationStrategy),
		postProcess: make(map[string]PostProcessStrategy),
	}
}

func (r *Registry) RegisterScan(name string, s ScanStrategy) error {
	if name == "" || s == nil {
		return fmt.Errorf("invalid scan strategy registration")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.scans[name]; exists {
		return fmt.Errorf("scan strategy already registered: %s", name)
	}
	r.scans[name] = s
	return nil
}

func (r *Registry) RegisterValidation(name string, v ValidationStrategy) error {
	if name == "" || v == nil {
		return fmt.Errorf("invalid validation strategy registration")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.validations[name]; exists {
		return fmt.Errorf("validation strategy already registered: %s", name)
	}
	r.validations[name] = v
	return nil
}

func (r *Registry) RegisterNaming(name string, n NamingStrategy) error {
	if name == "" || n == nil {
		return fmt.Errorf("invalid naming strategy registration")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.namings[name]; exists {
		return fmt.Errorf("naming strategy already registered: %s", name)
	}
	r.namings[name] = n
	return nil
}

func (r *Registry) RegisterGeneration(name string, g GenerationStrategy) error {
	if name == "" || g == nil {
		return fmt.Errorf("invalid generation strategy registration")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.generations[name]; exists {
		return fmt.Errorf("generation strategy already registered: %s", name)
	}
	r.generations[name] = g
	return nil
}

func (r *Registry) RegisterPostProcess(name string, p PostProcessStrategy) error {
	if name == "" || p == nil {
		return fmt.Errorf("invalid post-process strategy registration")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.postProcess[name]; exists {
		return fmt.Errorf("post-process strategy already registered: %s", name)
	}
	r.postProcess[name] = p
	return nil
}

func (r *Registry) Scan(name string) (ScanStrategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scans[name]
	return s, ok
}

func (r *Registry) Validation(name string) (ValidationStrategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.validations[name]
	return v, ok
}

func (r *Registry) Naming(name string) (NamingStrategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.namings[name]
	return n, ok
}

func (r *Registry) Generation(name string) (GenerationStrategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.generations[name]
	return g, ok
}

func (r *Registry) PostProcess(name string) (PostProcessStrategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.postProcess[name]
	return p, ok
}
