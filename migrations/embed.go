// Package migrations embeds the SQL migration files into the binary,
// so the bridge can migrate its audit database without shipping the
// files alongside the executable.
package migrations

import (
	"embed"

	"github.com/nerrad567/domo-bridge/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
