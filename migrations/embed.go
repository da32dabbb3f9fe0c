// Package migrations embeds the auth store schema and seed data so the
// binaries can migrate without a checkout.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed postgres/*.sql
var schemaFS embed.FS

//go:embed seeds/*.sql
var seedFS embed.FS

// Schema returns the migration files rooted at their directory.
func Schema() fs.FS {
	sub, err := fs.Sub(schemaFS, "postgres")
	if err != nil {
		panic(err)
	}
	return sub
}

// Seeds returns the seed files rooted at their directory.
func Seeds() fs.FS {
	sub, err := fs.Sub(seedFS, "seeds")
	if err != nil {
		panic(err)
	}
	return sub
}
