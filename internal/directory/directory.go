// Package directory holds the static service name -> endpoint table.
package directory

import (
	"errors"
	"fmt"
	"sort"

	"github.com/fabian4/peaudiosys-gateway/internal/model"
)

// ErrServiceNotConfigured is returned for names absent from the directory.
var ErrServiceNotConfigured = errors.New("service not configured")

// Directory is immutable after New and safe for concurrent reads.
type Directory struct {
	byName map[string]model.Service
	def    string
}

// New builds a directory. The default service must be present.
func New(services map[string]model.Service, defaultService string) (*Directory, error) {
	byName := make(map[string]model.Service, len(services))
	for name, s := range services {
		if name == "" || name != s.Name {
			return nil, fmt.Errorf("directory: service key %q does not match name %q", name, s.Name)
		}
		byName[name] = s
	}
	if _, ok := byName[defaultService]; !ok {
		return nil, fmt.Errorf("directory: default service %q: %w", defaultService, ErrServiceNotConfigured)
	}
	return &Directory{byName: byName, def: defaultService}, nil
}

// Lookup returns the endpoint registered under name.
func (d *Directory) Lookup(name string) (model.Service, error) {
	s, ok := d.byName[name]
	if !ok {
		return model.Service{}, fmt.Errorf("%w: %q", ErrServiceNotConfigured, name)
	}
	return s, nil
}

// Default is the catch-all service New was given.
func (d *Directory) Default() model.Service { return d.byName[d.def] }

// Names returns the service names in sorted order.
func (d *Directory) Names() []string {
	out := make([]string, 0, len(d.byName))
	for n := range d.byName {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
