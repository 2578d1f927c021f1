package profile

import "fmt"

// Registry holds all known capture profiles.
// Builtins cover the common firewall trace flavors; operators can still
// override providers and tokens per run.
type Registry struct {
	profiles map[string]Profile
	order    []string
}

// NewRegistry creates a registry with all builtin profiles.
func NewRegistry() *Registry {
	r := &Registry{
		profiles: make(map[string]Profile),
	}

	// Register builtin profiles
	r.Register(VfpProfile())
	r.Register(WfpProfile())

	return r
}

// NewRegistryWithProfiles creates a registry with custom profiles (for testing).
func NewRegistryWithProfiles(profiles ...Profile) *Registry {
	r := &Registry{
		profiles: make(map[string]Profile),
	}
	for _, p := range profiles {
		r.Register(p)
	}
	return r
}

// Register adds a profile to the registry, replacing any previous profile
// with the same ID.
func (r *Registry) Register(p Profile) {
	if _, seen := r.profiles[p.ID]; !seen {
		r.order = append(r.order, p.ID)
	}
	r.profiles[p.ID] = p
}

// Get returns a profile by ID.
func (r *Registry) Get(id string) (Profile, error) {
	p, ok := r.profiles[id]
	if !ok {
		return Profile{}, fmt.Errorf("unknown capture profile %q (known: %v)", id, r.List())
	}
	return p, nil
}

// List returns all profile IDs in registration order.
func (r *Registry) List() []string {
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}
