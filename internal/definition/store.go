package definition

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"gorm.io/gorm"

	"assetforge/internal/fieldtype"
	"assetforge/internal/schema"
)

var ErrUnknownField = errors.New("unknown field")

// Field: поле определения вместе с метаданными отображения.
type Field struct {
	Key            string            `json:"key"`
	Label          string            `json:"label"`
	Type           string            `json:"type"`
	Order          int               `json:"order"`
	Custom         bool              `json:"custom"`
	Mandatory      bool              `json:"mandatory,omitempty"`
	Global         bool              `json:"global,omitempty"`
	Options        fieldtype.Options `json:"options,omitempty"`
	DisplayOptions map[string]any    `json:"field_options,omitempty"`
	DefaultValue   *string           `json:"default_value,omitempty"`
	CustomFieldID  uint              `json:"custom_field_id,omitempty"`
}

// EffectiveOptions: опции типа, перекрытые опциями раскладки (required, readonly, ...).
func (f Field) EffectiveOptions() fieldtype.Options {
	out := f.Options.Clone()
	for k, v := range f.DisplayOptions {
		out[k] = v
	}
	return out
}

func (f Field) Column(types *fieldtype.Resolver) (schema.Column, error) {
	s, err := types.Resolve(f.Type)
	if err != nil {
		return schema.Column{}, fmt.Errorf("field %s: %w", f.Key, err)
	}
	return s.Column(f.Key, f.Options), nil
}

// Store: метаданные определений (gorm). Запись идёт через менеджер.
type Store struct {
	db    *gorm.DB
	types *fieldtype.Resolver
}

func NewStore(db *gorm.DB, types *fieldtype.Resolver) *Store {
	if types == nil {
		types = fieldtype.Default()
	}
	return &Store{db: db, types: types}
}

func (s *Store) DB() *gorm.DB { return s.db }
func (s *Store) Types() *fieldtype.Resolver { return s.types }
func (s *Store) WithTx(tx *gorm.DB) *Store { return &Store{db: tx, types: s.types} }
func (s *Store) conn(ctx context.Context) *gorm.DB { return s.db.WithContext(ctx) }

func (s *Store) AutoMigrate(ctx context.Context) error {
	if err := s.conn(ctx).AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("failed to migrate definition tables: %w", err)
	}
	return nil
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}

// ---------- AssetDefinition ----------

func (s *Store) Definition(ctx context.Context, id uint) (*AssetDefinition, error) {
	var d AssetDefinition
	if err := s.conn(ctx).First(&d, id).Error; err != nil {
		return nil, notFound(err, fmt.Sprintf("asset definition %d", id))
	}
	return &d, nil
}

// DefinitionByName: поиск без учёта регистра.
func (s *Store) DefinitionByName(ctx context.Context, name string) (*AssetDefinition, error) {
	var d AssetDefinition
	err := s.conn(ctx).Where("lower(system_name) = lower(?)", name).First(&d).Error
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("asset definition %q", name))
	}
	return &d, nil
}

func (s *Store) Definitions(ctx context.Context) ([]AssetDefinition, error) {
	var out []AssetDefinition
	if err := s.conn(ctx).Order("system_name").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) DefinitionNameTaken(ctx context.Context, name string) (bool, error) {
	var n int64
	err := s.conn(ctx).Model(&AssetDefinition{}).Where("lower(system_name) = lower(?)", name).Count(&n).Error
	return n > 0, err
}

func (s *Store) CreateDefinition(ctx context.Context, d *AssetDefinition) error {
	return s.conn(ctx).Create(d).Error
}

func (s *Store) SaveDefinition(ctx context.Context, d *AssetDefinition) error {
	return s.conn(ctx).Save(d).Error
}

// DeleteDefinition удаляет определение и его собственные поля.
func (s *Store) DeleteDefinition(ctx context.Context, id uint) error {
	db := s.conn(ctx)
	if err := db.Where("asset_definition_id = ?", id).Delete(&CustomFieldDefinition{}).Error; err != nil {
		return err
	}
	res := db.Delete(&AssetDefinition{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("asset definition %d: %w", id, ErrNotFound)
	}
	return nil
}

// ---------- CustomFieldDefinition ----------

// CustomFields: собственные поля определения, по имени.
func (s *Store) CustomFields(ctx context.Context, defID uint) ([]CustomFieldDefinition, error) {
	var out []CustomFieldDefinition
	err := s.conn(ctx).Where("asset_definition_id = ?", defID).Order("system_name").Find(&out).Error
	return out, err
}

func (s *Store) GlobalCustomFields(ctx context.Context) ([]CustomFieldDefinition, error) {
	var out []CustomFieldDefinition
	err := s.conn(ctx).Where("asset_definition_id IS NULL").Order("system_name").Find(&out).Error
	return out, err
}

// VisibleCustomFields: поля, доступные определению: собственные перекрывают общие.
func (s *Store) VisibleCustomFields(ctx context.Context, defID uint) (map[string]CustomFieldDefinition, error) {
	globals, err := s.GlobalCustomFields(ctx)
	if err != nil {
		return nil, err
	}
	owned, err := s.CustomFields(ctx, defID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]CustomFieldDefinition, len(globals)+len(owned))
	for _, f := range globals {
		out[f.SystemName] = f
	}
	for _, f := range owned {
		out[f.SystemName] = f
	}
	return out, nil
}

// CustomField - собственное поле определения; defID == 0 - общее поле.
func (s *Store) CustomField(ctx context.Context, defID uint, name string) (*CustomFieldDefinition, error) {
	var f CustomFieldDefinition
	q := s.conn(ctx).Where("system_name = ?", name)
	if defID == 0 {
		q = q.Where("asset_definition_id IS NULL")
	} else {
		q = q.Where("asset_definition_id = ?", defID)
	}
	if err := q.First(&f).Error; err != nil {
		return nil, notFound(err, fmt.Sprintf("custom field %q", name))
	}
	return &f, nil
}

func (s *Store) CreateCustomField(ctx context.Context, f *CustomFieldDefinition) error {
	return s.conn(ctx).Create(f).Error
}

func (s *Store) SaveCustomField(ctx context.Context, f *CustomFieldDefinition) error {
	return s.conn(ctx).Save(f).Error
}

func (s *Store) DeleteCustomField(ctx context.Context, id uint) error {
	return s.conn(ctx).Delete(&CustomFieldDefinition{}, id).Error
}

// ---------- DropdownDefinition ----------

func (s *Store) Dropdown(ctx context.Context, id uint) (*DropdownDefinition, error) {
	var d DropdownDefinition
	if err := s.conn(ctx).First(&d, id).Error; err != nil {
		return nil, notFound(err, fmt.Sprintf("dropdown %d", id))
	}
	return &d, nil
}

func (s *Store) DropdownByName(ctx context.Context, name string) (*DropdownDefinition, error) {
	var d DropdownDefinition
	if err := s.conn(ctx).Where("lower(system_name) = lower(?)", name).First(&d).Error; err != nil {
		return nil, notFound(err, fmt.Sprintf("dropdown %q", name))
	}
	return &d, nil
}

func (s *Store) Dropdowns(ctx context.Context) ([]DropdownDefinition, error) {
	var out []DropdownDefinition
	err := s.conn(ctx).Order("system_name").Find(&out).Error
	return out, err
}

func (s *Store) CreateDropdown(ctx context.Context, d *DropdownDefinition) error {
	return s.conn(ctx).Create(d).Error
}

func (s *Store) DeleteDropdown(ctx context.Context, id uint) error {
	return s.conn(ctx).Delete(&DropdownDefinition{}, id).Error
}

// ---------- поля и раскладка ----------

// ListFields: упорядоченная раскладка; каждый ключ обязан разрешаться
// во встроенное или пользовательское поле.
func (s *Store) ListFields(ctx context.Context, def *AssetDefinition) ([]FieldDisplay, error) {
	fields, err := s.AllFields(ctx, def)
	if err != nil {
		return nil, err
	}
	out := make([]FieldDisplay, 0, len(fields))
	for _, f := range fields {
		out = append(out, FieldDisplay{Key: f.Key, Order: f.Order, FieldOptions: f.DisplayOptions})
	}
	return out, nil
}

// AllFields: раскладка с метаданными отображения.
func (s *Store) AllFields(ctx context.Context, def *AssetDefinition) ([]Field, error) {
	display, err := def.DecodedFieldsDisplay()
	if err != nil {
		return nil, err
	}
	customs, err := s.VisibleCustomFields(ctx, def.ID)
	if err != nil {
		return nil, err
	}
	out := make([]Field, 0, len(display))
	for _, d := range display {
		f, err := ResolveField(d, customs)
		if err != nil {
			return nil, fmt.Errorf("definition %s: %w", def.SystemName, err)
		}
		out = append(out, f)
	}
	return out, nil
}

// AvailableFields: что можно добавить в раскладку (включая скрытые поля).
func (s *Store) AvailableFields(ctx context.Context, def *AssetDefinition) ([]Field, error) {
	display, err := def.DecodedFieldsDisplay()
	if err != nil {
		return nil, err
	}
	used := make(map[string]struct{}, len(display))
	for _, d := range display {
		used[d.Key] = struct{}{}
	}
	customs, err := s.VisibleCustomFields(ctx, def.ID)
	if err != nil {
		return nil, err
	}
	var out []Field
	for _, cf := range optionalFields {
		if _, ok := used[cf.Key]; ok {
			continue
		}
		out = append(out, coreToField(cf, FieldDisplay{Key: cf.Key, Order: -1}))
	}
	names := make([]string, 0, len(customs))
	for n := range customs {
		if _, ok := used[n]; !ok {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	for _, n := range names {
		f, err := customToField(customs[n], FieldDisplay{Key: n, Order: -1})
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// ResolveField разрешает элемент раскладки по встроенному каталогу и пользовательским полям.
func ResolveField(d FieldDisplay, customs map[string]CustomFieldDefinition) (Field, error) {
	if cf, ok := LookupCore(d.Key); ok {
		return coreToField(cf, d), nil
	}
	if c, ok := customs[d.Key]; ok {
		return customToField(c, d)
	}
	return Field{}, fmt.Errorf("field %q: %w", d.Key, ErrUnknownField)
}

func coreToField(cf CoreField, d FieldDisplay) Field {
	return Field{
		Key:            cf.Key,
		Label:          cf.Label,
		Type:           cf.Type,
		Order:          d.Order,
		Mandatory:      cf.Mandatory,
		Options:        cf.Options.Clone(),
		DisplayOptions: d.FieldOptions,
	}
}

func customToField(c CustomFieldDefinition, d FieldDisplay) (Field, error) {
	opts, err := c.Options()
	if err != nil {
		return Field{}, fmt.Errorf("custom field %s: %w", c.SystemName, err)
	}
	label := c.Label
	if label == "" {
		label = c.SystemName
	}
	return Field{
		Key:            c.SystemName,
		Label:          label,
		Type:           c.Type,
		Order:          d.Order,
		Custom:         true,
		Global:         c.Global(),
		Options:        opts,
		DisplayOptions: d.FieldOptions,
		DefaultValue:   c.DefaultValue,
		CustomFieldID:  c.ID,
	}, nil
}
