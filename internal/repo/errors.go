package repo

import "errors"

// Общие ошибки репозиториев.
var (
	// ErrNoDSN — строка подключения не задана.
	ErrNoDSN = errors.New("database dsn is not set")
)
