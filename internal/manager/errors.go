package manager

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTypeImmutable: тип поля нельзя менять, пока в колонке есть данные.
	ErrTypeImmutable = errors.New("custom field type is immutable once data exists")
	// ErrInUse: объект используется и не может быть удалён.
	ErrInUse = errors.New("in use")
	// ErrConfirmation: удаление без подтверждения именем.
	ErrConfirmation = errors.New("deletion must be confirmed with the system name")
	// ErrTableExists: физическая таблица уже существует без метаданных.
	ErrTableExists = errors.New("generated table already exists")
)

// SchemaSyncError: DDL или запись метаданных упали посреди операции.
// Compensation: результат попытки отката уже применённого DDL.
type SchemaSyncError struct {
	Op           string
	Stage        string
	Table        string
	Column       string
	Err          error
	Compensation error
}

func (e *SchemaSyncError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "schema sync failed (%s", e.Op)
	if e.Stage != "" {
		fmt.Fprintf(&b, ", stage %s", e.Stage)
	}
	if e.Table != "" {
		fmt.Fprintf(&b, ", table %s", e.Table)
	}
	if e.Column != "" {
		fmt.Fprintf(&b, ", column %s", e.Column)
	}
	fmt.Fprintf(&b, "): %v", e.Err)
	if e.Compensation != nil {
		fmt.Fprintf(&b, "; compensation failed: %v", e.Compensation)
	}
	return b.String()
}

func (e *SchemaSyncError) Unwrap() error { return e.Err }
