package sql

import _ "embed"

// Schema creates the local store tables; it is safe to run more than once.
//
//go:embed schema.sql
var Schema string
