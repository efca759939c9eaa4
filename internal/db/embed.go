package db

import "embed"

// migrationFS embeds the ledger schema migrations into the binary.
//
//go:embed migrations/*.sql
var migrationFS embed.FS
