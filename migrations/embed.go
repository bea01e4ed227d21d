// Package migrations embeds the goose SQL migrations so the schema ships
// inside the binaries.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
