// Package migrations holds the numbered SQL files applied by `enikshay-cases migrate`.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
