package postgres

import "colmerge/internal/storage"

func init() {
	storage.Register("postgres", New)
}
