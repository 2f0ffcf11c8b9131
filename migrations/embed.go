// Package migrations embeds the SQL schema migrations into the binary.
//
// File names follow YYYYMMDD_HHMMSS_description.{up,down}.sql.
package migrations

import "embed"

// FS holds every migration file at its root.
//
//go:embed *.sql
var FS embed.FS
