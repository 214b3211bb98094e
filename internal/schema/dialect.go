package schema

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
)

const (
	Postgres  = "postgres"
	MySQL     = "mysql"
	SQLite    = "sqlite"
	SQLServer = "sqlserver"
)

// NormalizeDriver сводит алиасы драйверов к имени диалекта ("": не поддерживается).
func NormalizeDriver(driver string) string {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "pgx", "postgresql", "postgres":
		return Postgres
	case "mysql", "mariadb":
		return MySQL
	case "sqlite", "sqlite3":
		return SQLite
	case "sqlserver", "mssql":
		return SQLServer
	default:
		return ""
	}
}

// Kind: логический тип колонки, независимый от СУБД.
type Kind string

const (
	KindID       Kind = "id"
	KindString   Kind = "string"
	KindText     Kind = "text"
	KindInt      Kind = "int"
	KindFloat    Kind = "float"
	KindDecimal  Kind = "decimal"
	KindBool     Kind = "bool"
	KindDate     Kind = "date"
	KindDateTime Kind = "datetime"
	KindJSON     Kind = "json"
	KindRef      Kind = "ref"
)

type Column struct {
	Name    string
	Kind    Kind
	Primary bool
	NotNull bool
}

type Table struct {
	Name    string
	Columns []Column
}

// ColumnNames возвращает имена колонок в порядке объявления.
func (t Table) ColumnNames() []string {
	out := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		out = append(out, c.Name)
	}
	return out
}

// Dialect описывает различия СУБД, важные для генерации и применения DDL.
type Dialect struct {
	Name string
	// TransactionalDDL: DDL можно откатить вместе с метаданными в одной транзакции.
	// MySQL коммитит DDL неявно, поэтому там DDL идёт первым, а метаданные: вторыми.
	TransactionalDDL bool
}

func NewDialect(name string) (Dialect, error) {
	switch n := NormalizeDriver(name); n {
	case Postgres, SQLite, SQLServer:
		return Dialect{Name: n, TransactionalDDL: true}, nil
	case MySQL:
		return Dialect{Name: n, TransactionalDDL: false}, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported dialect: %s", name)
	}
}

// DialectOf определяет диалект по открытому gorm-соединению.
func DialectOf(db *gorm.DB) Dialect {
	d, err := NewDialect(db.Dialector.Name())
	if err != nil {
		// неизвестный диалект: считаем DDL нетранзакционным (самый осторожный путь)
		return Dialect{Name: db.Dialector.Name()}
	}
	return d
}

// Quote экранирует идентификатор (имена всегда в нижнем регистре).
func (d Dialect) Quote(ident string) string {
	ident = strings.ToLower(ident)
	if d.Name == MySQL {
		return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// ColumnType маппит логический тип на физический тип колонки.
func (d Dialect) ColumnType(c Column) (string, error) {
	types, ok := columnTypes[d.Name]
	if !ok {
		return "", fmt.Errorf("unsupported dialect: %s", d.Name)
	}
	t, ok := types[c.Kind]
	if !ok {
		return "", fmt.Errorf("unknown column kind: %s", c.Kind)
	}
	return t, nil
}

var columnTypes = map[string]map[Kind]string{
	Postgres: {
		KindID:       "varchar(26)",
		KindString:   "varchar(255)",
		KindText:     "text",
		KindInt:      "bigint",
		KindFloat:    "double precision",
		KindDecimal:  "numeric(20,4)",
		KindBool:     "boolean",
		KindDate:     "date",
		KindDateTime: "timestamp with time zone",
		KindJSON:     "jsonb",
		KindRef:      "varchar(64)",
	},
	MySQL: {
		KindID:       "varchar(26)",
		KindString:   "varchar(255)",
		KindText:     "text",
		KindInt:      "bigint",
		KindFloat:    "double",
		KindDecimal:  "decimal(20,4)",
		KindBool:     "tinyint(1)",
		KindDate:     "date",
		KindDateTime: "datetime",
		KindJSON:     "json",
		KindRef:      "varchar(64)",
	},
	SQLite: {
		KindID:       "text",
		KindString:   "text",
		KindText:     "text",
		KindInt:      "integer",
		KindFloat:    "real",
		KindDecimal:  "numeric",
		KindBool:     "boolean",
		KindDate:     "date",
		KindDateTime: "datetime",
		KindJSON:     "json",
		KindRef:      "text",
	},
	SQLServer: {
		KindID:       "nvarchar(26)",
		KindString:   "nvarchar(255)",
		KindText:     "nvarchar(max)",
		KindInt:      "bigint",
		KindFloat:    "float",
		KindDecimal:  "decimal(20,4)",
		KindBool:     "bit",
		KindDate:     "date",
		KindDateTime: "datetimeoffset",
		KindJSON:     "nvarchar(max)",
		KindRef:      "nvarchar(64)",
	},
}

var reserved = map[string]struct{}{
	"user": {}, "select": {}, "table": {}, "insert": {}, "update": {}, "delete": {},
	"where": {}, "join": {}, "group": {}, "order": {}, "limit": {}, "offset": {},
	"primary": {}, "foreign": {}, "key": {}, "constraint": {}, "default": {},
	"from": {}, "into": {}, "values": {}, "unique": {}, "index": {}, "create": {},
	"drop": {}, "alter": {}, "schema": {}, "grant": {}, "revoke": {},
}

func IsReserved(s string) bool { _, ok := reserved[strings.ToLower(s)]; return ok }

// элементарная плюрализация (smartphones, tablets, ...)
func plural(s string) string {
	s = strings.ToLower(s)
	if strings.HasSuffix(s, "s") {
		return s
	}
	return s + "s"
}

// TableName = <prefix>_<plural(name)>, всё в нижнем регистре.
func TableName(prefix, systemName string) string {
	t := plural(systemName)
	if prefix == "" {
		if IsReserved(t) {
			t = "e_" + t
		}
		return t
	}
	return strings.ToLower(prefix) + "_" + t
}
