package importer

import "fmt"

// MigrationSchemaError: чужую схему не удалось прочитать или определение
// не удалось создать. Импорт прерывается сразу.
type MigrationSchemaError struct {
	Table string
	Err   error
}

func (e *MigrationSchemaError) Error() string {
	return fmt.Sprintf("migration schema failure (%s): %v", e.Table, e.Err)
}

func (e *MigrationSchemaError) Unwrap() error { return e.Err }

// MigrationRowError: одна строка источника не перенесена; импорт продолжается.
type MigrationRowError struct {
	Table string
	RowID string
	Err   error
}

func (e *MigrationRowError) Error() string {
	return fmt.Sprintf("%s row %s: %v", e.Table, e.RowID, e.Err)
}

func (e *MigrationRowError) Unwrap() error { return e.Err }
