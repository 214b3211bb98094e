package schema

import (
	"fmt"
	"strings"
)

type ChangeKind string

const (
	CreateTable ChangeKind = "create_table"
	AddColumn   ChangeKind = "add_column"
	DropColumn  ChangeKind = "drop_column"
	DropTable   ChangeKind = "drop_table"
)

// Change: одна DDL-операция и обратная к ней (для компенсации).
// Down пустой у необратимых операций (drop).
type Change struct {
	Kind   ChangeKind
	Table  string
	Column string
	Up     string
	Down   string
}

func (c Change) String() string {
	if c.Column != "" {
		return fmt.Sprintf("%s %s.%s", c.Kind, c.Table, c.Column)
	}
	return fmt.Sprintf("%s %s", c.Kind, c.Table)
}

// Builder генерирует DDL под конкретный диалект.
type Builder struct {
	d Dialect
}

func NewBuilder(d Dialect) *Builder { return &Builder{d: d} }

func (b *Builder) Dialect() Dialect { return b.d }

func (b *Builder) columnDef(c Column) (string, error) {
	typ, err := b.d.ColumnType(c)
	if err != nil {
		return "", fmt.Errorf("%s: %w", c.Name, err)
	}
	def := b.d.Quote(c.Name) + " " + typ
	switch {
	case c.Primary:
		def += " not null primary key"
	case c.NotNull:
		def += " not null"
	case b.d.Name != SQLite:
		def += " null"
	}
	return def, nil
}

// CreateTable возвращает create table с обратным drop table.
func (b *Builder) CreateTable(t Table) (Change, error) {
	if len(t.Columns) == 0 {
		return Change{}, fmt.Errorf("table %s has no columns", t.Name)
	}
	seen := map[string]struct{}{}
	cols := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		name := strings.ToLower(c.Name)
		if _, dup := seen[name]; dup {
			return Change{}, fmt.Errorf("%s: duplicate column %q", t.Name, c.Name)
		}
		seen[name] = struct{}{}
		def, err := b.columnDef(c)
		if err != nil {
			return Change{}, fmt.Errorf("%s.%w", t.Name, err)
		}
		cols = append(cols, def)
	}
	return Change{
		Kind:  CreateTable,
		Table: t.Name,
		Up: fmt.Sprintf("create table %s (\n  %s\n)",
			b.d.Quote(t.Name), strings.Join(cols, ",\n  ")),
		Down: b.dropTableSQL(t.Name),
	}, nil
}

// AddColumn: колонка всегда nullable, иначе добавление в непустую таблицу упадёт.
func (b *Builder) AddColumn(table string, c Column) (Change, error) {
	c.NotNull = false
	c.Primary = false
	def, err := b.columnDef(c)
	if err != nil {
		return Change{}, fmt.Errorf("%s.%w", table, err)
	}
	add := "add column "
	if b.d.Name == SQLServer {
		add = "add "
	}
	return Change{
		Kind:   AddColumn,
		Table:  table,
		Column: strings.ToLower(c.Name),
		Up:     fmt.Sprintf("alter table %s %s%s", b.d.Quote(table), add, def),
		Down:   b.dropColumnSQL(table, c.Name),
	}, nil
}

// DropColumn необратим; используется только для пустых колонок и в компенсации.
func (b *Builder) DropColumn(table, column string) Change {
	return Change{
		Kind:   DropColumn,
		Table:  table,
		Column: strings.ToLower(column),
		Up:     b.dropColumnSQL(table, column),
	}
}

func (b *Builder) DropTable(table string) Change {
	return Change{
		Kind:  DropTable,
		Table: table,
		Up:    b.dropTableSQL(table),
	}
}

func (b *Builder) dropColumnSQL(table, column string) string {
	return fmt.Sprintf("alter table %s drop column %s", b.d.Quote(table), b.d.Quote(column))
}

func (b *Builder) dropTableSQL(table string) string {
	return fmt.Sprintf("drop table if exists %s", b.d.Quote(table))
}
