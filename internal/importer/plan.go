package importer

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"assetforge/internal/capacity"
	"assetforge/internal/definition"
	"assetforge/internal/fieldtype"
	"assetforge/internal/logging"
	"assetforge/internal/manager"
	"assetforge/internal/schema"
)

const (
	TypesTable   = "glpi_plugin_genericobject_types"
	legacyPrefix = "glpi_plugin_genericobject_"
	lookupPrefix = "plugin_genericobject_"
)

// флаги use_* старого плагина -> ёмкости
var capacityFlags = map[string]string{
	"use_contracts":     capacity.Contracts,
	"use_documents":     capacity.Documents,
	"use_history":       capacity.History,
	"use_infocoms":      capacity.Infocom,
	"use_notepad":       capacity.Notepad,
	"use_loans":         capacity.Reservable,
	"use_network_ports": capacity.NetworkPorts,
}

// колонки, которые переносятся служебными полями или не переносятся вовсе
var legacySystemColumns = map[string]struct{}{
	"id": {}, "entities_id": {}, "is_recursive": {}, "is_deleted": {}, "is_template": {},
	"template_name": {}, "date_mod": {}, "date_creation": {}, "name": {}, "comment": {},
	"notepad": {}, "is_helpdesk_visible": {},
}

type customPlan struct {
	Column string
	Spec   manager.CustomFieldSpec
}

type dropdownRef struct {
	Column   string
	Field    string
	Dropdown string
}

type typePlan struct {
	ID         string
	LegacyName string
	SystemName string
	Comment    string
	Active     bool
	Table      string
	Capacities []string
	Core       []string
	Customs    []customPlan
	Refs       []dropdownRef
}

type dropdownPlan struct {
	SystemName string
	Table      string
}

type plan struct {
	Types     []typePlan
	Dropdowns []dropdownPlan
}

// camel: "smart_phone" -> "SmartPhone".
func camel(s string) string {
	var b strings.Builder
	up := true
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			up = true
			continue
		}
		if up {
			r = unicode.ToUpper(r)
			up = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// label: "screen_size" -> "Screen size".
func label(col string) string {
	s := strings.ReplaceAll(col, "_", " ")
	if s == "" {
		return col
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func legacyTable(name string) string {
	name = strings.ToLower(name)
	if !strings.HasSuffix(name, "s") {
		name += "s"
	}
	return legacyPrefix + name
}

// inferType сопоставляет тип колонки источника типу поля.
func inferType(c schema.ForeignColumn) (string, fieldtype.Options) {
	t := c.DatabaseType
	switch {
	case t == "tinyint" || strings.Contains(t, "bool") || t == "bit" ||
		(strings.Contains(t, "int") && (strings.HasPrefix(c.Name, "is_") || strings.HasPrefix(c.Name, "have_"))):
		return fieldtype.TypeBoolean, fieldtype.Options{}
	case strings.Contains(t, "int"):
		return fieldtype.TypeNumber, fieldtype.Options{}
	case strings.Contains(t, "decimal"), strings.Contains(t, "numeric"), strings.Contains(t, "float"),
		strings.Contains(t, "double"), strings.Contains(t, "real"):
		return fieldtype.TypeNumber, fieldtype.Options{"decimals": 2}
	case strings.Contains(t, "datetime"), strings.Contains(t, "timestamp"):
		return fieldtype.TypeDatetime, fieldtype.Options{}
	case t == "date":
		return fieldtype.TypeDate, fieldtype.Options{}
	case strings.Contains(t, "text"), strings.Contains(t, "clob"):
		return fieldtype.TypeText, fieldtype.Options{}
	case c.Name == "url" || strings.HasSuffix(c.Name, "_url"):
		return fieldtype.TypeURL, fieldtype.Options{}
	case c.Length > 255:
		return fieldtype.TypeText, fieldtype.Options{}
	default:
		return fieldtype.TypeString, fieldtype.Options{}
	}
}

func flagSet(v any) bool { return fieldtype.AsBool(v) }

// readPlan читает всю чужую схему до любых изменений в целевой базе.
func readPlan(ctx context.Context, source *gorm.DB) (*plan, error) {
	ctx, span := tracer.Start(ctx, "Importer.plan")
	defer span.End()

	if !schema.HasTable(ctx, source, TypesTable) {
		err := &MigrationSchemaError{Table: TypesTable, Err: errors.New("table not found")}
		span.RecordError(err)
		return nil, err
	}
	var rows []map[string]any
	if err := source.WithContext(ctx).Table(TypesTable).Order("id").Find(&rows).Error; err != nil {
		err = &MigrationSchemaError{Table: TypesTable, Err: errors.Wrap(err, "read legacy types")}
		span.RecordError(err)
		return nil, err
	}

	p := &plan{}
	dropdowns := map[string]dropdownPlan{}
	for _, row := range rows {
		tp, refs, err := planType(ctx, source, row)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		for _, d := range refs {
			dropdowns[d.SystemName] = d
		}
		p.Types = append(p.Types, tp)
	}
	names := make([]string, 0, len(dropdowns))
	for n := range dropdowns {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		p.Dropdowns = append(p.Dropdowns, dropdowns[n])
	}
	return p, nil
}

func planType(ctx context.Context, source *gorm.DB, row map[string]any) (typePlan, []dropdownPlan, error) {
	legacy := strings.ToLower(fieldtype.AsString(row["name"]))
	tp := typePlan{
		ID:         fieldtype.AsString(row["id"]),
		LegacyName: legacy,
		SystemName: camel(legacy),
		Comment:    fieldtype.AsString(row["comment"]),
		Active:     flagSet(row["is_active"]),
		Table:      legacyTable(legacy),
	}
	if err := definition.ValidateSystemName(tp.SystemName); err != nil {
		return tp, nil, &MigrationSchemaError{Table: TypesTable, Err: errors.Wrapf(err, "type %q", legacy)}
	}
	flags := make([]string, 0, len(capacityFlags))
	for f := range capacityFlags {
		flags = append(flags, f)
	}
	sort.Strings(flags)
	for _, f := range flags {
		if flagSet(row[f]) {
			tp.Capacities = append(tp.Capacities, capacityFlags[f])
		}
	}
	tp.Capacities = capacity.Normalize(tp.Capacities)

	if !schema.HasTable(ctx, source, tp.Table) {
		return tp, nil, &MigrationSchemaError{Table: tp.Table, Err: errors.Errorf("table of type %q not found", legacy)}
	}
	cols, err := schema.DescribeTable(ctx, source, tp.Table)
	if err != nil {
		return tp, nil, &MigrationSchemaError{Table: tp.Table, Err: errors.Wrap(err, "describe legacy table")}
	}
	capCols := map[string]struct{}{}
	for _, name := range tp.Capacities {
		d, err := capacity.Default().Get(name)
		if err != nil {
			return tp, nil, &MigrationSchemaError{Table: tp.Table, Err: err}
		}
		for _, c := range d.Columns {
			capCols[c.Name] = struct{}{}
		}
	}

	var dropdowns []dropdownPlan
	taken := map[string]struct{}{}
	for _, c := range cols {
		taken[c.Name] = struct{}{}
	}
	for _, c := range cols {
		if _, skip := legacySystemColumns[c.Name]; skip {
			continue
		}
		if _, skip := capCols[c.Name]; skip {
			continue
		}
		if _, ok := definition.LookupCore(c.Name); ok {
			tp.Core = append(tp.Core, c.Name)
			continue
		}
		if x, ok := strings.CutPrefix(c.Name, lookupPrefix); ok && strings.HasSuffix(x, "_id") {
			lookup := strings.TrimSuffix(x, "_id")
			dd := dropdownPlan{SystemName: camel(strings.TrimSuffix(lookup, "s")), Table: legacyPrefix + lookup}
			if !schema.HasTable(ctx, source, dd.Table) {
				return tp, nil, &MigrationSchemaError{Table: dd.Table, Err: errors.Errorf("lookup table for %s.%s not found", tp.Table, c.Name)}
			}
			field := strings.TrimSuffix(lookup, "s")
			if _, clash := taken[field]; clash || definition.ValidateFieldName(field) != nil {
				field = c.Name
			}
			dropdowns = append(dropdowns, dd)
			tp.Refs = append(tp.Refs, dropdownRef{Column: c.Name, Field: field, Dropdown: dd.SystemName})
			tp.Customs = append(tp.Customs, customPlan{Column: c.Name, Spec: manager.CustomFieldSpec{
				SystemName: field,
				Label:      label(field),
				Type:       fieldtype.TypeDropdown,
				Options:    fieldtype.Options{"itemtype": fieldtype.DropdownPrefix + dd.SystemName},
			}})
			continue
		}
		if err := definition.ValidateFieldName(c.Name); err != nil {
			logging.Warn("legacy column skipped", "table", tp.Table, "column", c.Name, "error", err.Error())
			continue
		}
		typ, opts := inferType(c)
		tp.Customs = append(tp.Customs, customPlan{Column: c.Name, Spec: manager.CustomFieldSpec{
			SystemName: c.Name,
			Label:      label(c.Name),
			Type:       typ,
			Options:    opts,
		}})
	}
	return tp, dropdowns, nil
}
