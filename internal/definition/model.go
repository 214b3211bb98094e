package definition

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"

	"assetforge/internal/capacity"
	"assetforge/internal/fieldtype"
	"assetforge/internal/logging"
	"assetforge/internal/schema"
)

// Префиксы сгенерированных таблиц
const (
	AssetTablePrefix    = "assets"
	DropdownTablePrefix = "dropdowns"
)

// AssetDefinition: описание типа актива, заданного администратором.
type AssetDefinition struct {
	ID            uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	SystemName    string         `gorm:"size:64;uniqueIndex;not null" json:"system_name"`
	Label         string         `gorm:"size:255" json:"label"`
	Icon          string         `gorm:"size:255" json:"icon,omitempty"`
	Picture       string         `gorm:"size:255" json:"picture,omitempty"`
	Comment       string         `gorm:"type:text" json:"comment,omitempty"`
	IsActive      bool           `gorm:"not null;default:false" json:"is_active"`
	FieldsDisplay datatypes.JSON `json:"fields_display"`
	Capacities    datatypes.JSON `json:"capacities"`
	Profiles      datatypes.JSON `json:"profiles"`
	Translations  datatypes.JSON `json:"translations"`
	DateCreation  time.Time      `gorm:"column:date_creation;autoCreateTime" json:"date_creation"`
	DateMod       time.Time      `gorm:"column:date_mod;autoUpdateTime" json:"date_mod"`
}

func (AssetDefinition) TableName() string { return "asset_definitions" }

// GeneratedTable: физическая таблица определения (1:1).
func (d *AssetDefinition) GeneratedTable() string {
	return schema.TableName(AssetTablePrefix, d.SystemName)
}

// FieldDisplay: элемент раскладки формы.
type FieldDisplay struct {
	Key          string         `json:"key"`
	Order        int            `json:"order"`
	FieldOptions map[string]any `json:"field_options,omitempty"`
}

// DecodedFieldsDisplay разбирает раскладку и сортирует по order (при равенстве: по key).
func (d *AssetDefinition) DecodedFieldsDisplay() ([]FieldDisplay, error) {
	var out []FieldDisplay
	if len(d.FieldsDisplay) > 0 {
		if err := json.Unmarshal(d.FieldsDisplay, &out); err != nil {
			return nil, fmt.Errorf("definition %s: invalid fields_display: %w", d.SystemName, err)
		}
	}
	SortDisplay(out)
	return out, nil
}

func SortDisplay(fields []FieldDisplay) {
	sort.SliceStable(fields, func(i, j int) bool {
		if fields[i].Order != fields[j].Order {
			return fields[i].Order < fields[j].Order
		}
		return fields[i].Key < fields[j].Key
	})
}

// SetFieldsDisplay сохраняет раскладку, перенумеровывая order подряд.
func (d *AssetDefinition) SetFieldsDisplay(fields []FieldDisplay) error {
	cp := append([]FieldDisplay(nil), fields...)
	SortDisplay(cp)
	for i := range cp {
		cp[i].Order = i
	}
	b, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	d.FieldsDisplay = datatypes.JSON(b)
	return nil
}

// DecodedCapacities: включённые ёмкости, отсортированы.
func (d *AssetDefinition) DecodedCapacities() ([]string, error) {
	var out []string
	if len(d.Capacities) > 0 {
		if err := json.Unmarshal(d.Capacities, &out); err != nil {
			return nil, fmt.Errorf("definition %s: invalid capacities: %w", d.SystemName, err)
		}
	}
	return capacity.Normalize(out), nil
}

// CapacityList: как DecodedCapacities, битая колонка читается как пустая с предупреждением.
func (d *AssetDefinition) CapacityList() []string {
	out, err := d.DecodedCapacities()
	if err != nil {
		logging.Warn("capacities not decoded", "definition", d.SystemName, "error", err.Error())
	}
	return out
}

func (d *AssetDefinition) SetCapacityList(names []string) {
	b, _ := json.Marshal(capacity.Normalize(names))
	d.Capacities = datatypes.JSON(b)
}

func (d *AssetDefinition) HasCapacity(name string) bool {
	for _, c := range d.CapacityList() {
		if c == name {
			return true
		}
	}
	return false
}

// DecodedProfiles: битовые маски прав по id профиля.
func (d *AssetDefinition) DecodedProfiles() (map[string]int, error) {
	out := map[string]int{}
	if len(d.Profiles) > 0 {
		if err := json.Unmarshal(d.Profiles, &out); err != nil {
			return map[string]int{}, fmt.Errorf("definition %s: invalid profiles: %w", d.SystemName, err)
		}
	}
	return out, nil
}

func (d *AssetDefinition) ProfileRights() map[string]int {
	out, err := d.DecodedProfiles()
	if err != nil {
		logging.Warn("profiles not decoded", "definition", d.SystemName, "error", err.Error())
	}
	return out
}

func (d *AssetDefinition) SetProfileRights(p map[string]int) {
	if p == nil {
		p = map[string]int{}
	}
	b, _ := json.Marshal(p)
	d.Profiles = datatypes.JSON(b)
}

// Translation: формы названия для языка.
type Translation struct {
	One   string `json:"one"`
	Other string `json:"other,omitempty"`
}

func (d *AssetDefinition) TranslationMap() map[string]Translation {
	out, err := decodeTranslations(d.Translations)
	if err != nil {
		logging.Warn("translations not decoded", "definition", d.SystemName, "error", err.Error())
	}
	return out
}

func decodeTranslations(raw datatypes.JSON) (map[string]Translation, error) {
	out := map[string]Translation{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return map[string]Translation{}, fmt.Errorf("invalid translations: %w", err)
		}
	}
	return out, nil
}

func EncodeTranslations(t map[string]Translation) datatypes.JSON {
	if t == nil {
		t = map[string]Translation{}
	}
	b, _ := json.Marshal(t)
	return datatypes.JSON(b)
}

// CustomFieldDefinition - пользовательское поле. AssetDefinitionID == nil - общее поле.
type CustomFieldDefinition struct {
	ID                uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	AssetDefinitionID *uint          `gorm:"index" json:"asset_definition_id"`
	SystemName        string         `gorm:"size:64;not null;index" json:"system_name"`
	Label             string         `gorm:"size:255" json:"label"`
	Type              string         `gorm:"size:32;not null" json:"type"`
	DefaultValue      *string        `gorm:"type:text" json:"default_value,omitempty"`
	FieldOptions      datatypes.JSON `json:"field_options"`
	Translations      datatypes.JSON `json:"translations"`
	DateCreation      time.Time      `gorm:"column:date_creation;autoCreateTime" json:"date_creation"`
	DateMod           time.Time      `gorm:"column:date_mod;autoUpdateTime" json:"date_mod"`
}

func (CustomFieldDefinition) TableName() string { return "custom_field_definitions" }

func (c *CustomFieldDefinition) Global() bool { return c.AssetDefinitionID == nil }

func (c *CustomFieldDefinition) Options() (fieldtype.Options, error) {
	return fieldtype.DecodeOptions(c.FieldOptions)
}

func (c *CustomFieldDefinition) SetOptions(o fieldtype.Options) error {
	b, err := o.Encode()
	if err != nil {
		return err
	}
	c.FieldOptions = datatypes.JSON(b)
	return nil
}

// DropdownDefinition: выпадающий список, заданный во время работы; своя таблица.
type DropdownDefinition struct {
	ID           uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	SystemName   string         `gorm:"size:64;uniqueIndex;not null" json:"system_name"`
	Label        string         `gorm:"size:255" json:"label"`
	Comment      string         `gorm:"type:text" json:"comment,omitempty"`
	Translations datatypes.JSON `json:"translations"`
	DateCreation time.Time      `gorm:"column:date_creation;autoCreateTime" json:"date_creation"`
	DateMod      time.Time      `gorm:"column:date_mod;autoUpdateTime" json:"date_mod"`
}

func (DropdownDefinition) TableName() string { return "dropdown_definitions" }

func (d *DropdownDefinition) GeneratedTable() string {
	return schema.TableName(DropdownTablePrefix, d.SystemName)
}

// Itemtype: как на список ссылаются dropdown-поля.
func (d *DropdownDefinition) Itemtype() string {
	return fieldtype.DropdownPrefix + d.SystemName
}

// DropdownTable: колонки таблицы выпадающего списка.
func DropdownTable(name string) schema.Table {
	return schema.Table{
		Name: name,
		Columns: []schema.Column{
			{Name: "id", Kind: schema.KindID, Primary: true},
			{Name: "name", Kind: schema.KindString, NotNull: true},
			{Name: "comment", Kind: schema.KindText},
			{Name: "code", Kind: schema.KindString},
			{Name: "ranking", Kind: schema.KindInt},
			{Name: "date_creation", Kind: schema.KindDateTime},
			{Name: "date_mod", Kind: schema.KindDateTime},
		},
	}
}

// Models: всё, что мигрирует AutoMigrate.
func Models() []any {
	return []any{&AssetDefinition{}, &CustomFieldDefinition{}, &DropdownDefinition{}}
}

// SameName сравнивает системные имена без учёта регистра.
func SameName(a, b string) bool { return strings.EqualFold(a, b) }
