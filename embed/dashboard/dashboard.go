// Package dashboard holds the static page served by `casegen serve`.
package dashboard

import _ "embed"

//go:embed index.html
var Index []byte
