package manager

import (
	"context"
	"fmt"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"

	"assetforge/internal/definition"
	"assetforge/internal/fieldtype"
	"assetforge/internal/schema"
)

type DropdownSpec struct {
	SystemName   string                            `json:"system_name"`
	Label        string                            `json:"label"`
	Comment      string                            `json:"comment"`
	Translations map[string]definition.Translation `json:"translations"`
}

// DropdownItem: строка таблицы выпадающего списка.
type DropdownItem struct {
	Code    string `json:"code"`
	Name    string `json:"name"`
	Comment string `json:"comment,omitempty"`
	Ranking int    `json:"ranking"`
}

// CreateDropdown создаёт выпадающий список и его таблицу.
func (m *Manager) CreateDropdown(ctx context.Context, spec DropdownSpec) (dd *definition.DropdownDefinition, err error) {
	ctx, done := m.observe(ctx, "create_dropdown", spec.SystemName)
	defer done(&err)

	if err := definition.ValidateSystemName(spec.SystemName); err != nil {
		return nil, err
	}
	if _, err := m.store.DropdownByName(ctx, spec.SystemName); err == nil {
		return nil, fmt.Errorf("dropdown %q: %w", spec.SystemName, definition.ErrDuplicateSystemName)
	}
	dd = &definition.DropdownDefinition{
		SystemName:   spec.SystemName,
		Label:        spec.Label,
		Comment:      spec.Comment,
		Translations: definition.EncodeTranslations(spec.Translations),
	}
	if dd.Label == "" {
		dd.Label = spec.SystemName
	}
	table := dd.GeneratedTable()
	plan := func(ctx context.Context, db *gorm.DB) ([]schema.Change, error) {
		if schema.HasTable(ctx, db, table) {
			return nil, fmt.Errorf("%s: %w", table, ErrTableExists)
		}
		ch, err := m.ddl.CreateTable(definition.DropdownTable(table))
		if err != nil {
			return nil, err
		}
		return []schema.Change{ch}, nil
	}
	write := func(ctx context.Context, st *definition.Store) error { return st.CreateDropdown(ctx, dd) }
	if err := m.sync(ctx, "create_dropdown", plan, write); err != nil {
		return nil, err
	}
	return dd, nil
}

// DeleteDropdown удаляет список, если на него не ссылается ни одно поле.
func (m *Manager) DeleteDropdown(ctx context.Context, id uint) (err error) {
	ctx, done := m.observe(ctx, "delete_dropdown", fmt.Sprint(id))
	defer done(&err)

	dd, err := m.store.Dropdown(ctx, id)
	if err != nil {
		return err
	}
	var fields []definition.CustomFieldDefinition
	if err := m.db.WithContext(ctx).Where("type = ?", fieldtype.TypeDropdown).Find(&fields).Error; err != nil {
		return err
	}
	for _, f := range fields {
		opts, err := f.Options()
		if err != nil {
			continue
		}
		if opts.String("itemtype") == dd.Itemtype() {
			return fmt.Errorf("dropdown %s is referenced by field %q: %w", dd.SystemName, f.SystemName, ErrInUse)
		}
	}
	write := func(ctx context.Context, st *definition.Store) error { return st.DeleteDropdown(ctx, dd.ID) }
	restore := func(ctx context.Context, st *definition.Store) error { return st.CreateDropdown(ctx, dd) }
	return m.drop(ctx, "delete_dropdown", []string{dd.GeneratedTable()}, write, restore)
}

// AddDropdownItems вставляет элементы, пропуская уже существующие коды.
func (m *Manager) AddDropdownItems(ctx context.Context, name string, items []DropdownItem) (int, error) {
	dd, err := m.store.DropdownByName(ctx, name)
	if err != nil {
		return 0, err
	}
	table := dd.GeneratedTable()
	db := m.db.WithContext(ctx)

	var codes []string
	if err := db.Table(table).Where("code IS NOT NULL").Pluck("code", &codes).Error; err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", table, err)
	}
	have := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		have[c] = struct{}{}
	}

	now := m.now().UTC()
	rows := make([]map[string]any, 0, len(items))
	for _, it := range items {
		if it.Code != "" {
			if _, dup := have[it.Code]; dup {
				continue
			}
			have[it.Code] = struct{}{}
		}
		rows = append(rows, map[string]any{
			"id":            ulid.Make().String(),
			"name":          it.Name,
			"comment":       it.Comment,
			"code":          it.Code,
			"ranking":       it.Ranking,
			"date_creation": now,
			"date_mod":      now,
		})
	}
	if len(rows) == 0 {
		return 0, nil
	}
	if err := db.Table(table).Create(&rows).Error; err != nil {
		return 0, fmt.Errorf("failed to insert into %s: %w", table, err)
	}
	return len(rows), nil
}
