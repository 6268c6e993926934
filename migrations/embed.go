// Package migrations embeds SQL migration files into the binary.
//
// The daemon runs migrations at startup without needing the SQL files on
// disk; they are compiled into the executable.
package migrations

import (
	"embed"

	"github.com/nerrad567/mfc-control/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.RegisterMigrations(migrationsFS)
}
