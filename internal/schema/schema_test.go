package schema

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/muninn-archive/muninn/internal/value"
)

func TestNewNamespace_RejectsBadNames(t *testing.T) {
	_, err := NewNamespace("Mixed", nil)
	require.Error(t, err)

	_, err = NewNamespace("ok", []Field{{Name: "9lives", Type: value.Text}})
	require.Error(t, err)

	_, err = NewNamespace("ok", []Field{{Name: "uuid", Type: value.UUID}})
	require.Error(t, err)
}

func TestNewNamespace_RejectsDuplicateFields(t *testing.T) {
	_, err := NewNamespace("ok", []Field{
		{Name: "a", Type: value.Text},
		{Name: "a", Type: value.Text},
	})
	require.Error(t, err)
}

func TestNamespace_FieldOrderIsStable(t *testing.T) {
	ns := MustNamespace("obs", []Field{
		{Name: "station", Type: value.Text},
		{Name: "level", Type: value.Integer, Optional: true},
	})
	fields := ns.Fields()
	require.Equal(t, "station", fields[0].Name)
	require.Equal(t, "level", fields[1].Name)
}

func TestNamespace_Validate(t *testing.T) {
	ns := MustNamespace("obs", []Field{
		{Name: "station", Type: value.Text},
		{Name: "level", Type: value.Integer, Optional: true},
	})

	require.NoError(t, ns.Validate(map[string]any{"station": "x"}, false))
	require.Error(t, ns.Validate(map[string]any{"level": int32(1)}, false), "mandatory field missing")
	require.NoError(t, ns.Validate(map[string]any{"level": int32(1)}, true))
	require.Error(t, ns.Validate(map[string]any{"station": 1}, false), "wrong type")
	require.Error(t, ns.Validate(map[string]any{"unknown": "x"}, true))
}

func TestRegistry_CoreIsAlwaysPresent(t *testing.T) {
	reg := NewRegistry()
	require.True(t, reg.Has("core"))
	require.Equal(t, "core", reg.Names()[0])

	core, err := reg.Namespace("core")
	require.NoError(t, err)
	for _, name := range []string{"uuid", "active", "product_type", "product_name", "physical_name", "metadata_date"} {
		_, ok := core.Field(name)
		require.True(t, ok, name)
	}
}

func TestRegistry_RejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	ns := MustNamespace("obs", []Field{{Name: "station", Type: value.Text}})
	require.NoError(t, reg.Register(ns))
	require.Error(t, reg.Register(ns))
}
