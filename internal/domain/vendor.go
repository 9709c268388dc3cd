// Package domain defines core data structures used throughout the price tracker.
package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Vendor allow-listed vendor.
type Vendor struct {
	// ID upstream vendor identifier.
	ID string `yaml:"id" json:"id"`
	// Name display name.
	Name string `yaml:"name" json:"name"`
}

// VendorSet curated allow-list of vendors plus the designated self vendor.
// It is immutable once built and is passed explicitly into every resolution pass.
type VendorSet struct {
	names  map[string]string
	selfID string
}

// NewVendorSet builds the allow-list. The self vendor must be part of it.
func NewVendorSet(vendors []Vendor, selfID string) (VendorSet, error) {
	if len(vendors) == 0 {
		return VendorSet{}, fmt.Errorf("vendor allow-list is empty")
	}

	names := make(map[string]string, len(vendors))
	for _, v := range vendors {
		id := strings.TrimSpace(v.ID)
		if id == "" {
			return VendorSet{}, fmt.Errorf("vendor id is required (name %q)", v.Name)
		}
		if _, dup := names[id]; dup {
			return VendorSet{}, fmt.Errorf("duplicate vendor id %s", id)
		}
		name := strings.TrimSpace(v.Name)
		if name == "" {
			name = id
		}
		names[id] = name
	}

	if _, ok := names[selfID]; !ok {
		return VendorSet{}, fmt.Errorf("self vendor %q is not in the allow-list", selfID)
	}

	return VendorSet{names: names, selfID: selfID}, nil
}

// Lookup returns the display name of an allow-listed vendor.
func (s VendorSet) Lookup(id string) (string, bool) {
	name, ok := s.names[id]
	return name, ok
}

// IsSelf reports whether id is the self vendor.
func (s VendorSet) IsSelf(id string) bool {
	return s.selfID != "" && id == s.selfID
}

// SelfID returns the self vendor id.
func (s VendorSet) SelfID() string {
	return s.selfID
}

// SelfName returns the self vendor display name.
func (s VendorSet) SelfName() string {
	return s.names[s.selfID]
}

// Len returns the number of allow-listed vendors.
func (s VendorSet) Len() int {
	return len(s.names)
}

// Vendors returns the allow-list sorted by vendor id.
func (s VendorSet) Vendors() []Vendor {
	out := make([]Vendor, 0, len(s.names))
	for id, name := range s.names {
		out = append(out, Vendor{ID: id, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
