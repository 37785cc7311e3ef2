// Package all registers every storage backend with the storage registry.
package all

import (
	_ "colmerge/internal/storage/mssql"
	_ "colmerge/internal/storage/postgres"
	_ "colmerge/internal/storage/sqlite"
)
