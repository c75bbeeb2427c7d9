// Package migrations embeds the schema migration files so the binary
// migrates itself on startup without a migrations directory on disk.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
