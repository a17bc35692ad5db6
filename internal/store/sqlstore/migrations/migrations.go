// Package migrations embeds the schema for each SQL dialect.
package migrations

import "embed"

// FS holds one directory of migrations per dialect.
//
//go:embed postgres/*.sql sqlite/*.sql
var FS embed.FS
