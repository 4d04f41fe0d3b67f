// Package migrations holds the ordered SQL migrations for the application
// schema. Files are named NNN_name.sql and applied by db.Migrator.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
