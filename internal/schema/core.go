package schema

import "github.com/muninn-archive/muninn/internal/value"

// Core returns the fixed core namespace. Every product has exactly one core
// record; uuid is the product key and (product_type, product_name) and
// (archive_path, physical_name) are unique.
func Core() *Namespace {
	return MustNamespace("core", []Field{
		{Name: "uuid", Type: value.UUID, Indexed: true},
		{Name: "active", Type: value.Boolean, Indexed: true},
		{Name: "hash", Type: value.Text, Optional: true, Indexed: true},
		{Name: "size", Type: value.Long, Optional: true, Indexed: true},
		{Name: "metadata_date", Type: value.Timestamp, Indexed: true},
		{Name: "archive_date", Type: value.Timestamp, Optional: true, Indexed: true},
		{Name: "archive_path", Type: value.Text, Optional: true},
		{Name: "product_type", Type: value.Text, Indexed: true},
		{Name: "product_name", Type: value.Text, Indexed: true},
		{Name: "physical_name", Type: value.Text, Indexed: true},
		{Name: "validity_start", Type: value.Timestamp, Optional: true, Indexed: true},
		{Name: "validity_stop", Type: value.Timestamp, Optional: true, Indexed: true},
		{Name: "creation_date", Type: value.Timestamp, Optional: true, Indexed: true},
		{Name: "footprint", Type: value.Geometry, Optional: true, Indexed: true},
		{Name: "remote_url", Type: value.Text, Optional: true},
	})
}
