package migrations

import "embed"

// Files holds the SQL migrations compiled into the gatehouse binary.
//
//go:embed *.sql
var Files embed.FS
