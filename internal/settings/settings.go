// Package settings overlays an instance's JSON settings blob on the static
// catalog of known keys.
package settings

import (
	"context"
	_ "embed"
	"fmt"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"dashboard-core/internal/store"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Value types a catalog entry may declare.
const (
	TypeString = "string"
	TypeInt    = "int"
	TypeFloat  = "float"
	TypeBool   = "bool"
	TypeList   = "list"
	TypeObject = "object"
)

// Entry describes one known settings key.
type Entry struct {
	Key         string `yaml:"key"`
	Type        string `yaml:"type"`
	Category    string `yaml:"category"`
	Group       string `yaml:"group"`
	Order       int    `yaml:"order"`
	Default     any    `yaml:"default"`
	Description string `yaml:"description"`
}

type catalogFile struct {
	Settings []Entry `yaml:"settings"`
}

// Catalog is the ordered set of known keys.
type Catalog struct {
	entries []Entry
	byKey   map[string]Entry
}

// ParseCatalog reads a YAML catalog and sorts its entries.
func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse settings catalog: %w", err)
	}

	c := &Catalog{byKey: make(map[string]Entry, len(file.Settings))}
	for _, e := range file.Settings {
		if e.Key == "" {
			return nil, fmt.Errorf("settings catalog: entry without key")
		}
		if _, dup := c.byKey[e.Key]; dup {
			return nil, fmt.Errorf("settings catalog: duplicate key %q", e.Key)
		}
		switch e.Type {
		case TypeString, TypeInt, TypeFloat, TypeBool, TypeList, TypeObject:
		default:
			return nil, fmt.Errorf("settings catalog: key %q has unknown type %q", e.Key, e.Type)
		}
		c.byKey[e.Key] = e
		c.entries = append(c.entries, e)
	}

	sort.SliceStable(c.entries, func(i, j int) bool {
		a, b := c.entries[i], c.entries[j]
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		if a.Group != b.Group {
			return a.Group < b.Group
		}
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		return a.Key < b.Key
	})
	return c, nil
}

// DefaultCatalog returns the embedded catalog.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalog)
}

// LoadCatalog reads path, or falls back to the embedded catalog when path is
// empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings catalog: %w", err)
	}
	return ParseCatalog(data)
}

// Entries returns the catalog in display order.
func (c *Catalog) Entries() []Entry {
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

func (c *Catalog) Lookup(key string) (Entry, bool) {
	e, ok := c.byKey[key]
	return e, ok
}

// Validate checks that v fits the declared type of key. nil is always valid
// because it removes the key.
func (c *Catalog) Validate(key string, v any) error {
	e, ok := c.byKey[key]
	if !ok {
		return fmt.Errorf("%w: unknown setting %q", store.ErrInvalidInput, key)
	}
	if v == nil || matchesType(e.Type, v) {
		return nil
	}
	return fmt.Errorf("%w: setting %q expects %s, got %T", store.ErrInvalidInput, key, e.Type, v)
}

func matchesType(typ string, v any) bool {
	switch typ {
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeBool:
		_, ok := v.(bool)
		return ok
	case TypeFloat:
		_, ok := asFloat(v)
		return ok
	case TypeInt:
		f, ok := asFloat(v)
		return ok && f == math.Trunc(f)
	case TypeList:
		switch v.(type) {
		case []any, []string:
			return true
		}
	case TypeObject:
		_, ok := v.(map[string]any)
		return ok
	}
	return false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}

// ConfigRow is one catalog key with the instance's stored value, if any.
type ConfigRow struct {
	Key         string `json:"key"`
	Type        string `json:"type"`
	Category    string `json:"category"`
	Group       string `json:"group"`
	Order       int    `json:"order"`
	Description string `json:"description"`
	Default     any    `json:"default"`
	Value       any    `json:"value"`
	HasValue    bool   `json:"has_value"`
}

// Overlay joins instance settings with the catalog.
type Overlay struct {
	store   *store.Store
	catalog *Catalog
}

func NewOverlay(s *store.Store, c *Catalog) *Overlay {
	return &Overlay{store: s, catalog: c}
}

func (o *Overlay) Catalog() *Catalog {
	return o.catalog
}

// GetInstanceConfigAsRows returns one row per catalog key in display order.
// Unset keys carry an empty string value. An unknown instance yields nil, nil.
func (o *Overlay) GetInstanceConfigAsRows(ctx context.Context, instanceID string) ([]ConfigRow, error) {
	values, err := o.store.InstanceSettings(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if values == nil {
		return nil, nil
	}

	rows := make([]ConfigRow, 0, len(o.catalog.entries))
	for _, e := range o.catalog.entries {
		v, ok := values[e.Key]
		if !ok {
			v = ""
		}
		rows = append(rows, ConfigRow{
			Key:         e.Key,
			Type:        e.Type,
			Category:    e.Category,
			Group:       e.Group,
			Order:       e.Order,
			Description: e.Description,
			Default:     e.Default,
			Value:       v,
			HasValue:    ok,
		})
	}
	return rows, nil
}

// UpdateInstanceSettings validates every key in patch, then merges it into the
// stored blob. Nothing is written if any key is rejected.
func (o *Overlay) UpdateInstanceSettings(ctx context.Context, instanceID string, patch map[string]any) (map[string]any, error) {
	keys := make([]string, 0, len(patch))
	for k := range patch {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := o.catalog.Validate(k, patch[k]); err != nil {
			return nil, err
		}
	}
	return o.store.UpdateInstanceSettings(ctx, instanceID, patch)
}
