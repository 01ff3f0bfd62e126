// Package directory provides the user and entity lookup backing approver resolution.
package directory

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/nexuscrm/approvals/internal/domain"
	"github.com/nexuscrm/approvals/internal/domain/ports"
)

// File is the YAML layout of a directory file.
//
//	users:
//	  - {id: hannah, name: Hannah, role: hr, tenant: acme}
//	entities:
//	  leave_request:
//	    L-100: "Annual leave, 3 days"
type File struct {
	Users    []ports.User                 `yaml:"users"`
	Entities map[string]map[string]string `yaml:"entities"`
}

// Static is an in-memory Directory. A user without a tenant belongs to every tenant.
type Static struct {
	mu       sync.RWMutex
	users    map[string]ports.User
	entities map[string]map[string]string
}

// NewStatic builds a directory from users.
func NewStatic(users ...ports.User) *Static {
	s := &Static{users: make(map[string]ports.User), entities: make(map[string]map[string]string)}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

var _ ports.Directory = (*Static)(nil)

// Load reads a YAML directory file.
func Load(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML directory document and validates each user's role.
func Parse(data []byte) (*Static, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse directory file: %w", err)
	}
	for _, u := range f.Users {
		if u.ID == "" {
			return nil, fmt.Errorf("directory user without id")
		}
		if !u.Role.IsValid() {
			return nil, fmt.Errorf("directory user %s has unknown role %q", u.ID, u.Role)
		}
	}
	s := NewStatic(f.Users...)
	for entityType, labels := range f.Entities {
		s.entities[entityType] = labels
	}
	return s, nil
}

// Put adds or replaces a user.
func (s *Static) Put(u ports.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// Describe registers a display label for an entity.
func (s *Static) Describe(entityType, entityID, label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entities[entityType] == nil {
		s.entities[entityType] = make(map[string]string)
	}
	s.entities[entityType][entityID] = label
}

func (s *Static) UsersInRole(_ context.Context, tenant string, role domain.RoleLevel) ([]ports.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ports.User
	for _, u := range s.users {
		if u.Role != role {
			continue
		}
		if u.Tenant != "" && tenant != "" && u.Tenant != tenant {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Static) GetUser(_ context.Context, id string) (*ports.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, ports.ErrNotFound)
	}
	return &u, nil
}

func (s *Static) DescribeEntity(_ context.Context, entityType, entityID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entities[entityType][entityID], nil
}
