package schema

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// Columns читает фактический набор колонок таблицы (в нижнем регистре).
// Источник истины для синхронизации: именно физическая схема, а не метаданные.
func Columns(ctx context.Context, db *gorm.DB, table string) ([]string, error) {
	types, err := db.WithContext(ctx).Migrator().ColumnTypes(table)
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	out := make([]string, 0, len(types))
	for _, ct := range types {
		out = append(out, strings.ToLower(ct.Name()))
	}
	return out, nil
}

// ColumnSet: то же, что Columns, но множеством.
func ColumnSet(ctx context.Context, db *gorm.DB, table string) (map[string]struct{}, error) {
	cols, err := Columns(ctx, db, table)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		set[c] = struct{}{}
	}
	return set, nil
}

func HasTable(ctx context.Context, db *gorm.DB, table string) bool {
	return db.WithContext(ctx).Migrator().HasTable(table)
}

func HasColumn(ctx context.Context, db *gorm.DB, table, column string) bool {
	return db.WithContext(ctx).Migrator().HasColumn(table, column)
}

// ForeignColumn: колонка чужой (импортируемой) таблицы.
type ForeignColumn struct {
	Name         string
	DatabaseType string
	Length       int64
	Nullable     bool
}

// DescribeTable читает колонки с типами: используется импортом из внешних схем.
func DescribeTable(ctx context.Context, db *gorm.DB, table string) ([]ForeignColumn, error) {
	types, err := db.WithContext(ctx).Migrator().ColumnTypes(table)
	if err != nil {
		return nil, fmt.Errorf("failed to describe %s: %w", table, err)
	}
	out := make([]ForeignColumn, 0, len(types))
	for _, ct := range types {
		fc := ForeignColumn{
			Name:         strings.ToLower(ct.Name()),
			DatabaseType: strings.ToLower(ct.DatabaseTypeName()),
		}
		if n, ok := ct.Length(); ok {
			fc.Length = n
		}
		if null, ok := ct.Nullable(); ok {
			fc.Nullable = null
		}
		out = append(out, fc)
	}
	return out, nil
}

// Tables перечисляет таблицы текущей схемы.
func Tables(ctx context.Context, db *gorm.DB) ([]string, error) {
	tables, err := db.WithContext(ctx).Migrator().GetTables()
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	out := make([]string, 0, len(tables))
	for _, t := range tables {
		out = append(out, strings.ToLower(t))
	}
	return out, nil
}
