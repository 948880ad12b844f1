// Package properties implements the nested product property container:
// namespace name to field name to canonical value. The container is what the
// archive hands to plug-ins and what the database backends read and write.
package properties

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/muninn-archive/muninn/internal/errs"
	"github.com/muninn-archive/muninn/internal/schema"
	"github.com/muninn-archive/muninn/internal/value"
)

// Properties maps namespace names to field maps. In update payloads a nil
// field map is the removal sentinel: it deletes every record of that
// namespace for the product.
type Properties map[string]map[string]any

// New returns an empty container with a core namespace map allocated.
func New() Properties {
	return Properties{"core": map[string]any{}}
}

// Namespace returns the field map for ns, allocating it if absent.
func (p Properties) Namespace(ns string) map[string]any {
	m := p[ns]
	if m == nil {
		m = map[string]any{}
		p[ns] = m
	}
	return m
}

// Get reads one field. ok is false when the namespace or field is absent or
// the stored value is nil.
func (p Properties) Get(ns, field string) (any, bool) {
	m, ok := p[ns]
	if !ok {
		return nil, false
	}
	v, ok := m[field]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// Set writes one field, allocating the namespace map as needed.
func (p Properties) Set(ns, field string, v any) {
	p.Namespace(ns)[field] = v
}

// Namespaces returns the namespace names present, sorted, core first when
// present.
func (p Properties) Namespaces() []string {
	names := make([]string, 0, len(p))
	for ns := range p {
		if ns != "core" {
			names = append(names, ns)
		}
	}
	sort.Strings(names)
	if _, ok := p["core"]; ok {
		return append([]string{"core"}, names...)
	}
	return names
}

// Copy returns a deep copy down to the field maps. Values are shared; all
// canonical types are immutable by convention.
func (p Properties) Copy() Properties {
	out := make(Properties, len(p))
	for ns, fields := range p {
		if fields == nil {
			out[ns] = nil
			continue
		}
		m := make(map[string]any, len(fields))
		for k, v := range fields {
			m[k] = v
		}
		out[ns] = m
	}
	return out
}

// MergeFrom copies every field of other into p, overwriting on collision. A
// nil namespace map in other marks the namespace for removal and is carried
// over as-is.
func (p Properties) MergeFrom(other Properties) {
	for ns, fields := range other {
		if fields == nil {
			p[ns] = nil
			continue
		}
		dst := p.Namespace(ns)
		for k, v := range fields {
			dst[k] = v
		}
	}
}

// Validate checks every namespace against the registry. When partial is
// true, mandatory fields may be absent (update payloads). Nil namespace
// maps (removal sentinels) are only valid in partial mode and never for
// core.
func (p Properties) Validate(reg *schema.Registry, partial bool) error {
	for nsName, fields := range p {
		if fields == nil {
			if !partial {
				return errs.Schema("namespace %q has no fields", nsName)
			}
			if nsName == "core" {
				return errs.Schema("cannot remove the core namespace")
			}
			if !reg.Has(nsName) {
				return errs.Schema("undefined namespace %q", nsName)
			}
			continue
		}
		ns, err := reg.Namespace(nsName)
		if err != nil {
			return err
		}
		if err := ns.Validate(fields, partial || nsName != "core"); err != nil {
			return err
		}
	}
	return nil
}

// Core field accessors used throughout the orchestrator. Each tolerates an
// absent field and returns the zero value.

func (p Properties) UUID() uuid.UUID {
	if v, ok := p.Get("core", "uuid"); ok {
		if id, ok := v.(uuid.UUID); ok {
			return id
		}
	}
	return uuid.Nil
}

func (p Properties) Active() bool {
	if v, ok := p.Get("core", "active"); ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}

func (p Properties) ProductType() string { return p.coreText("product_type") }
func (p Properties) ProductName() string { return p.coreText("product_name") }
func (p Properties) PhysicalName() string {
	return p.coreText("physical_name")
}
func (p Properties) ArchivePath() (string, bool) {
	v, ok := p.Get("core", "archive_path")
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
func (p Properties) RemoteURL() string { return p.coreText("remote_url") }
func (p Properties) Hash() string      { return p.coreText("hash") }

func (p Properties) Size() (int64, bool) {
	v, ok := p.Get("core", "size")
	if !ok {
		return 0, false
	}
	n, ok := v.(int64)
	return n, ok
}

func (p Properties) ArchiveDate() (time.Time, bool) {
	v, ok := p.Get("core", "archive_date")
	if !ok {
		return time.Time{}, false
	}
	ts, ok := v.(time.Time)
	return ts, ok
}

func (p Properties) coreText(field string) string {
	if v, ok := p.Get("core", field); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Flatten returns "ns.field" keys to values for display and export, sorted
// by key with core fields first.
func (p Properties) Flatten() []Flat {
	var out []Flat
	for _, ns := range p.Namespaces() {
		fields := p[ns]
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if fields[k] == nil {
				continue
			}
			out = append(out, Flat{Namespace: ns, Field: k, Value: fields[k]})
		}
	}
	return out
}

// Flat is one flattened property.
type Flat struct {
	Namespace string
	Field     string
	Value     any
}

// FormatValue renders a flattened value for display.
func (f Flat) FormatValue() string {
	s, err := value.Format(f.Value)
	if err != nil {
		return "?"
	}
	return s
}
