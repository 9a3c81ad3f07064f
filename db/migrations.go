// Package db carries the goose migrations embedded into the binary so
// applying them does not depend on the working directory.
package db

import "embed"

//go:embed migrations/*.sql
var Migrations embed.FS
