package manager

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"assetforge/internal/definition"
	"assetforge/internal/fieldtype"
	"assetforge/internal/logging"
	"assetforge/internal/rights"
	"assetforge/internal/schema"
)

// Spec: параметры нового определения.
type Spec struct {
	SystemName   string                            `json:"system_name"`
	Label        string                            `json:"label"`
	Icon         string                            `json:"icon"`
	Picture      string                            `json:"picture"`
	Comment      string                            `json:"comment"`
	IsActive     bool                              `json:"is_active"`
	Profiles     map[string]int                    `json:"profiles"`
	Translations map[string]definition.Translation `json:"translations"`
}

// Patch - частичное обновление атрибутов; nil - без изменений.
type Patch struct {
	Label        *string                           `json:"label"`
	Icon         *string                           `json:"icon"`
	Picture      *string                           `json:"picture"`
	Comment      *string                           `json:"comment"`
	IsActive     *bool                             `json:"is_active"`
	Profiles     map[string]int                    `json:"profiles"`
	Translations map[string]definition.Translation `json:"translations"`
}

func validateProfiles(p map[string]int) error {
	var errs fieldtype.ValidationErrors
	for id, mask := range p {
		if mask < 0 || mask > rights.All {
			errs = append(errs, &fieldtype.ValidationError{
				Code:    fieldtype.CodeOutOfRange,
				Field:   "profiles." + id,
				Message: fmt.Sprintf("right mask must be between 0 and %d", rights.All),
			})
		}
	}
	return errs.Err()
}

// CreateDefinition создаёт определение и таблицу только с обязательными колонками.
// Раскладка: обязательные поля в фиксированном порядке.
func (m *Manager) CreateDefinition(ctx context.Context, spec Spec) (def *definition.AssetDefinition, err error) {
	ctx, done := m.observe(ctx, "create_definition", spec.SystemName)
	defer done(&err)

	if err := definition.ValidateSystemName(spec.SystemName); err != nil {
		return nil, err
	}
	if err := validateProfiles(spec.Profiles); err != nil {
		return nil, err
	}
	taken, err := m.store.DefinitionNameTaken(ctx, spec.SystemName)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, fmt.Errorf("asset definition %q: %w", spec.SystemName, definition.ErrDuplicateSystemName)
	}

	def = &definition.AssetDefinition{
		SystemName:   spec.SystemName,
		Label:        spec.Label,
		Icon:         spec.Icon,
		Picture:      spec.Picture,
		Comment:      spec.Comment,
		IsActive:     spec.IsActive,
		Translations: definition.EncodeTranslations(spec.Translations),
	}
	if def.Label == "" {
		def.Label = spec.SystemName
	}
	if err := def.SetFieldsDisplay(definition.DefaultDisplay()); err != nil {
		return nil, err
	}
	def.SetCapacityList(nil)
	def.SetProfileRights(spec.Profiles)

	table := def.GeneratedTable()
	plan := func(ctx context.Context, db *gorm.DB) ([]schema.Change, error) {
		if schema.HasTable(ctx, db, table) {
			return nil, fmt.Errorf("%s: %w", table, ErrTableExists)
		}
		t, err := definition.MandatoryTable(table, m.types)
		if err != nil {
			return nil, err
		}
		ch, err := m.ddl.CreateTable(t)
		if err != nil {
			return nil, err
		}
		return []schema.Change{ch}, nil
	}
	write := func(ctx context.Context, st *definition.Store) error {
		return st.CreateDefinition(ctx, def)
	}
	if err := m.sync(ctx, "create_definition", plan, write); err != nil {
		return nil, err
	}
	return def, nil
}

// UpdateDefinition меняет только атрибуты метаданных; схема не трогается.
func (m *Manager) UpdateDefinition(ctx context.Context, id uint, p Patch) (def *definition.AssetDefinition, err error) {
	ctx, done := m.observe(ctx, "update_definition", fmt.Sprint(id))
	defer done(&err)

	if err := validateProfiles(p.Profiles); err != nil {
		return nil, err
	}
	def, err = m.store.Definition(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Label != nil {
		def.Label = *p.Label
	}
	if p.Icon != nil {
		def.Icon = *p.Icon
	}
	if p.Picture != nil {
		def.Picture = *p.Picture
	}
	if p.Comment != nil {
		def.Comment = *p.Comment
	}
	if p.IsActive != nil {
		def.IsActive = *p.IsActive
	}
	if p.Profiles != nil {
		def.SetProfileRights(p.Profiles)
	}
	if p.Translations != nil {
		def.Translations = definition.EncodeTranslations(p.Translations)
	}
	noDDL := func(context.Context, *gorm.DB) ([]schema.Change, error) { return nil, nil }
	write := func(ctx context.Context, st *definition.Store) error { return st.SaveDefinition(ctx, def) }
	if err := m.sync(ctx, "update_definition", noDDL, write); err != nil {
		return nil, err
	}
	return def, nil
}

// UpdateFields заменяет раскладку. Новые поля получают колонки (ADD COLUMN),
// убранные только исчезают из раскладки, перестановка меняет лишь order.
func (m *Manager) UpdateFields(ctx context.Context, id uint, fields []definition.FieldDisplay) (def *definition.AssetDefinition, err error) {
	ctx, done := m.observe(ctx, "update_fields", fmt.Sprint(id))
	defer done(&err)

	def, err = m.store.Definition(ctx, id)
	if err != nil {
		return nil, err
	}
	customs, err := m.store.VisibleCustomFields(ctx, def.ID)
	if err != nil {
		return nil, err
	}
	resolved, err := m.checkLayout(fields, customs)
	if err != nil {
		return nil, err
	}
	if err := def.SetFieldsDisplay(fields); err != nil {
		return nil, err
	}

	table := def.GeneratedTable()
	plan := func(ctx context.Context, db *gorm.DB) ([]schema.Change, error) {
		cols := make([]schema.Column, 0, len(resolved))
		for _, f := range resolved {
			c, err := f.Column(m.types)
			if err != nil {
				return nil, err
			}
			cols = append(cols, c)
		}
		return m.missingColumns(ctx, db, table, cols)
	}
	write := func(ctx context.Context, st *definition.Store) error { return st.SaveDefinition(ctx, def) }
	if err := m.sync(ctx, "update_fields", plan, write); err != nil {
		return nil, err
	}
	return def, nil
}

// checkLayout: ключи уникальны, разрешаются, обязательные поля на месте.
func (m *Manager) checkLayout(fields []definition.FieldDisplay, customs map[string]definition.CustomFieldDefinition) ([]definition.Field, error) {
	var errs fieldtype.ValidationErrors
	seen := map[string]struct{}{}
	out := make([]definition.Field, 0, len(fields))
	for _, fd := range fields {
		if _, dup := seen[fd.Key]; dup {
			errs = append(errs, &fieldtype.ValidationError{Code: fieldtype.CodeInvalid, Field: fd.Key, Message: "duplicate field in layout"})
			continue
		}
		seen[fd.Key] = struct{}{}
		f, err := definition.ResolveField(fd, customs)
		if err != nil {
			errs = append(errs, &fieldtype.ValidationError{Code: fieldtype.CodeUnknownField, Field: fd.Key, Message: "unknown field"})
			continue
		}
		out = append(out, f)
	}
	for _, mf := range definition.MandatoryFields() {
		if _, ok := seen[mf.Key]; !ok {
			errs = append(errs, &fieldtype.ValidationError{Code: fieldtype.CodeRequired, Field: mf.Key, Message: "mandatory field cannot be removed from the layout"})
		}
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// SetCapacities заменяет набор ёмкостей. Включение добавляет схему (идемпотентно),
// выключение лишь снимает флаг: колонки и данные остаются.
func (m *Manager) SetCapacities(ctx context.Context, id uint, names []string) (def *definition.AssetDefinition, err error) {
	ctx, done := m.observe(ctx, "set_capacities", fmt.Sprint(id))
	defer done(&err)

	if err := m.caps.Validate(names); err != nil {
		return nil, err
	}
	def, err = m.store.Definition(ctx, id)
	if err != nil {
		return nil, err
	}
	prev := def.CapacityList()
	def.SetCapacityList(names)
	enabled := def.CapacityList()

	table := def.GeneratedTable()
	plan := func(ctx context.Context, db *gorm.DB) ([]schema.Change, error) {
		return m.capacityChanges(ctx, db, table, enabled)
	}
	write := func(ctx context.Context, st *definition.Store) error { return st.SaveDefinition(ctx, def) }
	if err := m.sync(ctx, "set_capacities", plan, write); err != nil {
		return nil, err
	}
	if disabled := diff(prev, enabled); len(disabled) > 0 {
		logging.Info("capacities disabled, schema retained", "definition", def.SystemName, "capacities", disabled)
	}
	return def, nil
}

// DeleteDefinition: необратимо: таблица (и вспомогательные) удаляются вместе с метаданными.
// confirm должен совпасть с системным именем.
func (m *Manager) DeleteDefinition(ctx context.Context, id uint, confirm string) (err error) {
	ctx, done := m.observe(ctx, "delete_definition", fmt.Sprint(id))
	defer done(&err)

	def, err := m.store.Definition(ctx, id)
	if err != nil {
		return err
	}
	if !strings.EqualFold(strings.TrimSpace(confirm), def.SystemName) {
		return ErrConfirmation
	}
	owned, err := m.store.CustomFields(ctx, def.ID)
	if err != nil {
		return err
	}
	tables := append([]string{def.GeneratedTable()}, m.relationTables(def)...)

	write := func(ctx context.Context, st *definition.Store) error {
		return st.DeleteDefinition(ctx, def.ID)
	}
	restore := func(ctx context.Context, st *definition.Store) error {
		if err := st.CreateDefinition(ctx, def); err != nil {
			return err
		}
		for i := range owned {
			if err := st.CreateCustomField(ctx, &owned[i]); err != nil {
				return err
			}
		}
		return nil
	}
	return m.drop(ctx, "delete_definition", tables, write, restore)
}

func diff(a, b []string) []string {
	in := make(map[string]struct{}, len(b))
	for _, x := range b {
		in[x] = struct{}{}
	}
	var out []string
	for _, x := range a {
		if _, ok := in[x]; !ok {
			out = append(out, x)
		}
	}
	return out
}
