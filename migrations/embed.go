// Package migrations embeds SQL migration files into the binary, so
// Halo Bridge can migrate its database without shipping loose .sql files.
package migrations

import (
	"embed"

	"github.com/openhalo/halo-bridge/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	// Register embedded migrations with the database package.
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "." // Files are at root of embedded FS
}
