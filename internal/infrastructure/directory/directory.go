// Package directory is a static, YAML-backed principal directory. It answers
// manager lookups, role and department membership, and maps principals to
// their Lark receive ids.
package directory

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/garyjia/approval-engine/internal/domain/approval"
	"github.com/garyjia/approval-engine/internal/engine"
)

// Principal is one person known to the directory
type Principal struct {
	ID         string   `yaml:"id"`
	Name       string   `yaml:"name,omitempty"`
	Manager    string   `yaml:"manager,omitempty"`
	Department string   `yaml:"department,omitempty"`
	Roles      []string `yaml:"roles,omitempty"`
	LarkID     string   `yaml:"lark_id,omitempty"`
}

type file struct {
	Principals []Principal `yaml:"principals"`
}

// Directory indexes principals by id, role and department
type Directory struct {
	byID         map[string]Principal
	byRole       map[string][]string
	byDepartment map[string][]string
}

// New builds a directory. Membership lists keep the input order.
func New(principals []Principal) (*Directory, error) {
	d := &Directory{
		byID:         make(map[string]Principal, len(principals)),
		byRole:       map[string][]string{},
		byDepartment: map[string][]string{},
	}
	for _, p := range principals {
		if p.ID == "" {
			return nil, fmt.Errorf("directory: principal without id")
		}
		if _, dup := d.byID[p.ID]; dup {
			return nil, fmt.Errorf("directory: duplicate principal %q", p.ID)
		}
		d.byID[p.ID] = p
		for _, r := range p.Roles {
			d.byRole[r] = append(d.byRole[r], p.ID)
		}
		if p.Department != "" {
			d.byDepartment[p.Department] = append(d.byDepartment[p.Department], p.ID)
		}
	}
	return d, nil
}

// Parse decodes a directory document
func Parse(data []byte) (*Directory, error) {
	var f file
	if len(bytes.TrimSpace(data)) > 0 {
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("directory: decode: %w", err)
		}
	}
	return New(f.Principals)
}

// Load reads a directory file. A missing path yields an empty directory.
func Load(path string) (*Directory, error) {
	if path == "" {
		return New(nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(nil)
		}
		return nil, fmt.Errorf("directory: read %s: %w", path, err)
	}
	return Parse(data)
}

// Lookup returns the principal with id
func (d *Directory) Lookup(id string) (Principal, bool) {
	p, ok := d.byID[id]
	return p, ok
}

// ManagerOf implements engine.ManagerLookup
func (d *Directory) ManagerOf(ctx context.Context, requesterID string) (string, error) {
	return d.byID[requesterID].Manager, nil
}

// HasRole reports whether principalID holds role
func (d *Directory) HasRole(ctx context.Context, principalID, role string) bool {
	for _, r := range d.byID[principalID].Roles {
		if r == role {
			return true
		}
	}
	return false
}

// ResolveApprovers implements engine.ApproverResolver. Role and department
// specs expand to their members. Dynamic specs name object fields holding a
// principal id or a list of them.
func (d *Directory) ResolveApprovers(ctx context.Context, spec approval.ApproverSpec, in engine.ResolveInput) ([]string, error) {
	var ids []string
	switch spec.Type {
	case approval.ApproverRole:
		for _, role := range spec.Value {
			ids = append(ids, d.byRole[role]...)
		}
	case approval.ApproverDepartment:
		for _, dept := range spec.Value {
			ids = append(ids, d.byDepartment[dept]...)
		}
	case approval.ApproverDynamic:
		for _, field := range spec.Value {
			ids = append(ids, fieldPrincipals(in.ObjectData[field])...)
		}
	default:
		return nil, fmt.Errorf("directory: cannot resolve approver type %q", spec.Type)
	}
	return ids, nil
}

// ReceiveID returns the Lark receive id for principalID, falling back to the id itself
func (d *Directory) ReceiveID(principalID string) string {
	if p, ok := d.byID[principalID]; ok && p.LarkID != "" {
		return p.LarkID
	}
	return principalID
}

// Roles lists every known role name
func (d *Directory) Roles() []string {
	roles := make([]string, 0, len(d.byRole))
	for r := range d.byRole {
		roles = append(roles, r)
	}
	sort.Strings(roles)
	return roles
}

func fieldPrincipals(v any) []string {
	switch val := v.(type) {
	case string:
		if val != "" {
			return []string{val}
		}
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Verify interface compliance
var (
	_ engine.ManagerLookup    = (*Directory)(nil)
	_ engine.ApproverResolver = (*Directory)(nil)
)
