package manager

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"assetforge/internal/definition"
	"assetforge/internal/fieldtype"
	"assetforge/internal/schema"
)

// CustomFieldSpec - новое пользовательское поле. Hidden - не добавлять в раскладку.
type CustomFieldSpec struct {
	SystemName   string                            `json:"system_name"`
	Label        string                            `json:"label"`
	Type         string                            `json:"type"`
	DefaultValue *string                           `json:"default_value"`
	Options      fieldtype.Options                 `json:"field_options"`
	Translations map[string]definition.Translation `json:"translations"`
	Hidden       bool                              `json:"hidden"`
}

// CustomFieldPatch - частичное обновление поля; nil - без изменений.
type CustomFieldPatch struct {
	Label        *string                           `json:"label"`
	Type         *string                           `json:"type"`
	DefaultValue *string                           `json:"default_value"`
	ClearDefault bool                              `json:"clear_default"`
	Options      fieldtype.Options                 `json:"field_options"`
	Translations map[string]definition.Translation `json:"translations"`
}

// checkFieldType проверяет тип, опции, цель dropdown и значение по умолчанию.
func (m *Manager) checkFieldType(ctx context.Context, typ string, opts fieldtype.Options, def *string) (fieldtype.Strategy, error) {
	s, err := m.types.Resolve(typ)
	if err != nil {
		return nil, err
	}
	if err := s.CheckOptions(opts); err != nil {
		var ve *fieldtype.ValidationError
		if errors.As(err, &ve) {
			ve.Field = "field_options"
		}
		return nil, err
	}
	if s.Name() == fieldtype.TypeDropdown {
		itemtype := opts.String("itemtype")
		if name, ok := strings.CutPrefix(itemtype, fieldtype.DropdownPrefix); ok {
			if _, err := m.store.DropdownByName(ctx, name); err != nil {
				if errors.Is(err, definition.ErrNotFound) {
					return nil, &fieldtype.ValidationError{Code: fieldtype.CodeBadOptions, Field: "field_options", Message: fmt.Sprintf("unknown itemtype %q", itemtype)}
				}
				return nil, err
			}
		}
	}
	if def != nil {
		if _, err := fieldtype.Check(s, "default_value", *def, opts); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// AddCustomField создаёт поле. defID == 0: общее поле (только dropdown), без колонки:
// колонка появится, когда поле попадёт в раскладку определения.
func (m *Manager) AddCustomField(ctx context.Context, defID uint, spec CustomFieldSpec) (cf *definition.CustomFieldDefinition, err error) {
	ctx, done := m.observe(ctx, "add_custom_field", fmt.Sprintf("%d.%s", defID, spec.SystemName))
	defer done(&err)

	if err := definition.ValidateFieldName(spec.SystemName); err != nil {
		return nil, err
	}
	if spec.Options == nil {
		spec.Options = fieldtype.Options{}
	}
	strategy, err := m.checkFieldType(ctx, spec.Type, spec.Options, spec.DefaultValue)
	if err != nil {
		return nil, err
	}

	cf = &definition.CustomFieldDefinition{
		SystemName:   spec.SystemName,
		Label:        spec.Label,
		Type:         strategy.Name(),
		DefaultValue: spec.DefaultValue,
		Translations: definition.EncodeTranslations(spec.Translations),
	}
	if err := cf.SetOptions(spec.Options); err != nil {
		return nil, err
	}

	if defID == 0 {
		return m.addGlobalField(ctx, cf)
	}

	def, err := m.store.Definition(ctx, defID)
	if err != nil {
		return nil, err
	}
	visible, err := m.store.VisibleCustomFields(ctx, def.ID)
	if err != nil {
		return nil, err
	}
	if _, taken := visible[spec.SystemName]; taken {
		return nil, fmt.Errorf("custom field %q: %w", spec.SystemName, definition.ErrDuplicateSystemName)
	}
	cf.AssetDefinitionID = &def.ID

	if !spec.Hidden {
		display, err := def.DecodedFieldsDisplay()
		if err != nil {
			return nil, err
		}
		display = append(display, definition.FieldDisplay{Key: cf.SystemName, Order: len(display)})
		if err := def.SetFieldsDisplay(display); err != nil {
			return nil, err
		}
	}

	table := def.GeneratedTable()
	col := strategy.Column(cf.SystemName, spec.Options)
	plan := func(ctx context.Context, db *gorm.DB) ([]schema.Change, error) {
		// колонка могла остаться от удалённого поля с тем же именем
		return m.reuseOrAdd(ctx, db, table, col)
	}
	write := func(ctx context.Context, st *definition.Store) error {
		if err := st.CreateCustomField(ctx, cf); err != nil {
			return err
		}
		return st.SaveDefinition(ctx, def)
	}
	if err := m.sync(ctx, "add_custom_field", plan, write); err != nil {
		return nil, err
	}
	return cf, nil
}

func (m *Manager) addGlobalField(ctx context.Context, cf *definition.CustomFieldDefinition) (*definition.CustomFieldDefinition, error) {
	if cf.Type != fieldtype.TypeDropdown {
		return nil, &fieldtype.ValidationError{Code: fieldtype.CodeInvalid, Field: "type", Message: "only dropdown fields can be shared between definitions"}
	}
	if _, err := m.store.CustomField(ctx, 0, cf.SystemName); err == nil {
		return nil, fmt.Errorf("custom field %q: %w", cf.SystemName, definition.ErrDuplicateSystemName)
	} else if !errors.Is(err, definition.ErrNotFound) {
		return nil, err
	}
	noDDL := func(context.Context, *gorm.DB) ([]schema.Change, error) { return nil, nil }
	write := func(ctx context.Context, st *definition.Store) error { return st.CreateCustomField(ctx, cf) }
	if err := m.sync(ctx, "add_custom_field", noDDL, write); err != nil {
		return nil, err
	}
	return cf, nil
}

// reuseOrAdd: пустая колонка-сирота пересоздаётся под новый тип; с данными - конфликт.
func (m *Manager) reuseOrAdd(ctx context.Context, db *gorm.DB, table string, col schema.Column) ([]schema.Change, error) {
	if !schema.HasColumn(ctx, db, table, col.Name) {
		ch, err := m.ddl.AddColumn(table, col)
		if err != nil {
			return nil, err
		}
		return []schema.Change{ch}, nil
	}
	has, err := m.columnHasData(ctx, db, table, col.Name)
	if err != nil {
		return nil, err
	}
	if has {
		return nil, fmt.Errorf("column %s.%s holds data of a removed field: %w", table, col.Name, ErrTypeImmutable)
	}
	return m.recreateColumn(table, col)
}

func (m *Manager) recreateColumn(table string, col schema.Column) ([]schema.Change, error) {
	add, err := m.ddl.AddColumn(table, col)
	if err != nil {
		return nil, err
	}
	return []schema.Change{m.ddl.DropColumn(table, col.Name), add}, nil
}

// tablesUsing - таблицы, где есть колонка поля (для общего поля - все определения).
func (m *Manager) tablesUsing(ctx context.Context, db *gorm.DB, cf *definition.CustomFieldDefinition) ([]string, error) {
	var defs []definition.AssetDefinition
	if cf.Global() {
		var err error
		if defs, err = m.store.WithTx(db).Definitions(ctx); err != nil {
			return nil, err
		}
	} else {
		d, err := m.store.WithTx(db).Definition(ctx, *cf.AssetDefinitionID)
		if err != nil {
			return nil, err
		}
		defs = []definition.AssetDefinition{*d}
	}
	var out []string
	for i := range defs {
		t := defs[i].GeneratedTable()
		if schema.HasTable(ctx, db, t) && schema.HasColumn(ctx, db, t, cf.SystemName) {
			out = append(out, t)
		}
	}
	return out, nil
}

// UpdateCustomField меняет поле. Смена типа (или опций, меняющих колонку) разрешена,
// только пока ни в одной таблице нет данных этого поля.
func (m *Manager) UpdateCustomField(ctx context.Context, defID uint, name string, p CustomFieldPatch) (cf *definition.CustomFieldDefinition, err error) {
	ctx, done := m.observe(ctx, "update_custom_field", fmt.Sprintf("%d.%s", defID, name))
	defer done(&err)

	cf, err = m.store.CustomField(ctx, defID, name)
	if err != nil {
		return nil, err
	}
	oldOpts, err := cf.Options()
	if err != nil {
		return nil, err
	}
	oldStrategy, err := m.types.Resolve(cf.Type)
	if err != nil {
		return nil, err
	}

	newType := cf.Type
	if p.Type != nil {
		newType = *p.Type
	}
	newOpts := oldOpts
	if p.Options != nil {
		newOpts = p.Options
	}
	newDefault := cf.DefaultValue
	if p.ClearDefault {
		newDefault = nil
	} else if p.DefaultValue != nil {
		newDefault = p.DefaultValue
	}
	strategy, err := m.checkFieldType(ctx, newType, newOpts, newDefault)
	if err != nil {
		return nil, err
	}
	if cf.Global() && strategy.Name() != fieldtype.TypeDropdown {
		return nil, &fieldtype.ValidationError{Code: fieldtype.CodeInvalid, Field: "type", Message: "only dropdown fields can be shared between definitions"}
	}

	oldCol := oldStrategy.Column(cf.SystemName, oldOpts)
	newCol := strategy.Column(cf.SystemName, newOpts)
	typeChanged := strategy.Name() != cf.Type || oldCol.Kind != newCol.Kind

	if p.Label != nil {
		cf.Label = *p.Label
	}
	if p.Translations != nil {
		cf.Translations = definition.EncodeTranslations(p.Translations)
	}
	cf.Type = strategy.Name()
	cf.DefaultValue = newDefault
	if err := cf.SetOptions(newOpts); err != nil {
		return nil, err
	}

	plan := func(ctx context.Context, db *gorm.DB) ([]schema.Change, error) {
		if !typeChanged {
			return nil, nil
		}
		tables, err := m.tablesUsing(ctx, db, cf)
		if err != nil {
			return nil, err
		}
		var out []schema.Change
		for _, t := range tables {
			has, err := m.columnHasData(ctx, db, t, cf.SystemName)
			if err != nil {
				return nil, err
			}
			if has {
				return nil, fmt.Errorf("custom field %q (%s): %w", cf.SystemName, t, ErrTypeImmutable)
			}
			if oldCol.Kind == newCol.Kind {
				continue
			}
			chs, err := m.recreateColumn(t, newCol)
			if err != nil {
				return nil, err
			}
			out = append(out, chs...)
		}
		return out, nil
	}
	write := func(ctx context.Context, st *definition.Store) error { return st.SaveCustomField(ctx, cf) }
	if err := m.sync(ctx, "update_custom_field", plan, write); err != nil {
		return nil, err
	}
	return cf, nil
}

// RemoveCustomField удаляет метаданные поля и убирает его из раскладок.
// Колонка и данные остаются.
func (m *Manager) RemoveCustomField(ctx context.Context, defID uint, name string) (err error) {
	ctx, done := m.observe(ctx, "remove_custom_field", fmt.Sprintf("%d.%s", defID, name))
	defer done(&err)

	cf, err := m.store.CustomField(ctx, defID, name)
	if err != nil {
		return err
	}
	var defs []definition.AssetDefinition
	if cf.Global() {
		if defs, err = m.store.Definitions(ctx); err != nil {
			return err
		}
	} else {
		d, err := m.store.Definition(ctx, defID)
		if err != nil {
			return err
		}
		defs = []definition.AssetDefinition{*d}
	}

	var touched []*definition.AssetDefinition
	for i := range defs {
		d := &defs[i]
		display, err := d.DecodedFieldsDisplay()
		if err != nil {
			return err
		}
		kept := display[:0]
		for _, fd := range display {
			if fd.Key != cf.SystemName {
				kept = append(kept, fd)
			}
		}
		if len(kept) == len(display) {
			continue
		}
		if err := d.SetFieldsDisplay(kept); err != nil {
			return err
		}
		touched = append(touched, d)
	}

	noDDL := func(context.Context, *gorm.DB) ([]schema.Change, error) { return nil, nil }
	write := func(ctx context.Context, st *definition.Store) error {
		for _, d := range touched {
			if err := st.SaveDefinition(ctx, d); err != nil {
				return err
			}
		}
		return st.DeleteCustomField(ctx, cf.ID)
	}
	return m.sync(ctx, "remove_custom_field", noDDL, write)
}
