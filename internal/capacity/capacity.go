// Package capacity описывает опциональные поведения (ёмкости), которые
// администратор включает у определения актива: договоры, документы, история и т.д.
package capacity

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"assetforge/internal/schema"
)

const (
	Contracts     = "HasContractsCapacity"
	Documents     = "HasDocumentsCapacity"
	History       = "HasHistoryCapacity"
	Infocom       = "HasInfocomCapacity"
	Notepad       = "HasNotepadCapacity"
	Reservable    = "IsReservableCapacity"
	NetworkPorts  = "HasNetworkPortCapacity"
	Inventoriable = "IsInventoriableCapacity"
)

// Execer: то, что нужно хукам от транзакции (sqlx.Tx подходит).
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Rebind(query string) string
}

// FieldChange: изменение одного поля записи.
type FieldChange struct {
	Field string
	Old   any
	New   any
}

// HookContext передаётся хукам ёмкостей в рамках транзакции записи.
type HookContext struct {
	Exec    Execer
	Dialect schema.Dialect
	Table   string
	ItemID  string
	Actor   string
	NewID   func() string
	Now     time.Time
}

// Descriptor: описание ёмкости. Состояния не хранит.
type Descriptor struct {
	Name  string
	Label string
	// колонки, добавляемые в сгенерированную таблицу
	Columns []schema.Column
	// колонки, которые заполняет сама ёмкость, а не пользователь
	ReadOnly []string
	// вспомогательные таблицы, по имени основной
	Relations func(table string) []schema.Table

	Requires      []string
	ConflictsWith []string

	AfterUpdate func(ctx context.Context, hc HookContext, changes []FieldChange) error
}

// RelationTables возвращает вспомогательные таблицы ёмкости для конкретной таблицы.
func (d Descriptor) RelationTables(table string) []schema.Table {
	if d.Relations == nil {
		return nil
	}
	return d.Relations(table)
}

// IsReadOnly: колонку ёмкости нельзя менять через запись актива.
func (d Descriptor) IsReadOnly(column string) bool {
	for _, c := range d.ReadOnly {
		if c == column {
			return true
		}
	}
	return false
}

// HasSchema: ёмкость что-то добавляет в схему.
func (d Descriptor) HasSchema() bool {
	return len(d.Columns) > 0 || d.Relations != nil
}

// Compatible проверяет ёмкость против полного набора включённых ёмкостей.
func (d Descriptor) Compatible(enabled map[string]struct{}) error {
	for _, r := range d.Requires {
		if _, ok := enabled[r]; !ok {
			return &IncompatibleError{Capacity: d.Name, Other: r, Reason: "requires"}
		}
	}
	for _, c := range d.ConflictsWith {
		if _, ok := enabled[c]; ok {
			return &IncompatibleError{Capacity: d.Name, Other: c, Reason: "conflicts with"}
		}
	}
	return nil
}

// UnknownCapacityError: запрошена незарегистрированная ёмкость.
type UnknownCapacityError struct {
	Name string
}

func (e *UnknownCapacityError) Error() string {
	return fmt.Sprintf("unknown capacity %q", e.Name)
}

type IncompatibleError struct {
	Capacity string
	Other    string
	Reason   string
}

func (e *IncompatibleError) Error() string {
	return fmt.Sprintf("capacity %s %s %s", e.Capacity, e.Reason, e.Other)
}

// RelationTable: имя вспомогательной таблицы ёмкости.
func RelationTable(table, suffix string) string {
	return table + "_" + suffix
}

func DocumentsTable(table string) string { return RelationTable(table, "documents") }
func HistoryTable(table string) string { return RelationTable(table, "history") }
func NetworkPortsTable(table string) string { return RelationTable(table, "networkports") }
