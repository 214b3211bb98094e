// Package materialize строит из метаданных определения рабочий тип актива
// (поля, ёмкости, опции поиска) и даёт доступ к строкам сгенерированной таблицы.
package materialize

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"assetforge/internal/capacity"
	"assetforge/internal/definition"
	"assetforge/internal/fieldtype"
	"assetforge/internal/schema"
)

var (
	ErrUnknownField     = errors.New("unknown field")
	ErrCapacityDisabled = errors.New("capacity is not enabled")
	ErrInactive         = errors.New("asset definition is inactive")
)

// TypeField: поле рабочего типа: раскладка плюс колонки включённых ёмкостей.
type TypeField struct {
	Key       string            `json:"key"`
	Label     string            `json:"label"`
	Type      string            `json:"type"`
	Options   fieldtype.Options `json:"options,omitempty"`
	Mandatory bool              `json:"mandatory,omitempty"`
	Custom    bool              `json:"custom,omitempty"`
	Capacity  string            `json:"capacity,omitempty"`
	Default   *string           `json:"default,omitempty"`
	SearchID  int               `json:"search_id"`

	strategy fieldtype.Strategy
}

func (f TypeField) Strategy() fieldtype.Strategy { return f.strategy }

// AssetType: рабочий тип одного определения для конкретного токена метаданных.
type AssetType struct {
	ID         uint
	SystemName string
	Label      string
	Table      string
	Active     bool
	Token      uint64

	fields     []TypeField
	byKey      map[string]int
	capacities []capacity.Descriptor
	profiles   map[string]int
}

// Build собирает тип. customs: поля, видимые определению.
func Build(def *definition.AssetDefinition, customs map[string]definition.CustomFieldDefinition, caps *capacity.Registry, types *fieldtype.Resolver) (*AssetType, error) {
	display, err := def.DecodedFieldsDisplay()
	if err != nil {
		return nil, err
	}
	enabled, err := def.DecodedCapacities()
	if err != nil {
		return nil, err
	}
	profiles, err := def.DecodedProfiles()
	if err != nil {
		return nil, err
	}
	t := &AssetType{
		ID:         def.ID,
		SystemName: def.SystemName,
		Label:      def.Label,
		Table:      def.GeneratedTable(),
		Active:     def.IsActive,
		byKey:      map[string]int{},
		profiles:   profiles,
	}
	for _, d := range display {
		f, err := definition.ResolveField(d, customs)
		if err != nil {
			return nil, fmt.Errorf("definition %s: %w", def.SystemName, err)
		}
		s, err := types.Resolve(f.Type)
		if err != nil {
			return nil, err
		}
		t.add(TypeField{
			Key:       f.Key,
			Label:     f.Label,
			Type:      s.Name(),
			Options:   f.EffectiveOptions(),
			Mandatory: f.Mandatory,
			Custom:    f.Custom,
			Default:   f.DefaultValue,
			SearchID:  searchID(f),
			strategy:  s,
		})
	}

	regIndex := map[string]int{}
	for i, d := range caps.ListAvailable() {
		regIndex[d.Name] = i
	}
	for _, name := range enabled {
		d, err := caps.Get(name)
		if err != nil {
			return nil, err
		}
		t.capacities = append(t.capacities, d)
		for i, c := range d.Columns {
			typ, opts := capacityColumnType(c)
			if d.IsReadOnly(c.Name) {
				opts["readonly"] = true
			}
			s, err := types.Resolve(typ)
			if err != nil {
				return nil, err
			}
			t.add(TypeField{
				Key:      c.Name,
				Label:    columnLabel(c.Name),
				Type:     typ,
				Options:  opts,
				Capacity: d.Name,
				SearchID: capacitySearchBase + regIndex[d.Name]*10 + i,
				strategy: s,
			})
		}
	}
	return t, nil
}

func (t *AssetType) add(f TypeField) {
	if _, dup := t.byKey[f.Key]; dup {
		return
	}
	t.byKey[f.Key] = len(t.fields)
	t.fields = append(t.fields, f)
}

// Fields: поля в порядке раскладки, затем колонки ёмкостей.
func (t *AssetType) Fields() []TypeField { return append([]TypeField(nil), t.fields...) }

func (t *AssetType) Field(key string) (TypeField, bool) {
	i, ok := t.byKey[key]
	if !ok {
		return TypeField{}, false
	}
	return t.fields[i], true
}

// Has: включена ли ёмкость.
func (t *AssetType) Has(name string) bool {
	for _, d := range t.capacities {
		if d.Name == name {
			return true
		}
	}
	return false
}

func (t *AssetType) Capacities() []string {
	out := make([]string, 0, len(t.capacities))
	for _, d := range t.capacities {
		out = append(out, d.Name)
	}
	return out
}

func (t *AssetType) Profiles() map[string]int { return t.profiles }

// Columns: все колонки, которые читает тип: служебные, затем поля.
func (t *AssetType) Columns() []string {
	out := make([]string, 0, len(t.fields)+5)
	for _, c := range definition.SystemColumns() {
		out = append(out, c.Name)
	}
	for _, f := range t.fields {
		out = append(out, f.Key)
	}
	return out
}

func (t *AssetType) require(name string) error {
	if !t.Has(name) {
		return fmt.Errorf("%s on %s: %w", name, t.SystemName, ErrCapacityDisabled)
	}
	return nil
}

// Идентификаторы опций поиска: фиксированные для служебных и встроенных полей,
// от идентификатора записи для пользовательских и от позиции в реестре для ёмкостей.
const (
	customSearchBase   = 45000
	capacitySearchBase = 10000
)

var coreSearchIDs = map[string]int{
	"name":             1,
	"id":               2,
	"locations_id":     3,
	"otherserial":      6,
	"contact":          7,
	"contact_num":      8,
	"comment":          16,
	"date_mod":         19,
	"manufacturers_id": 23,
	"users_id_tech":    24,
	"states_id":        31,
	"uuid":             47,
	"groups_id_tech":   49,
	"entities_id":      80,
	"date_creation":    121,
}

func searchID(f definition.Field) int {
	if f.Custom {
		return customSearchBase + int(f.CustomFieldID)
	}
	return coreSearchIDs[f.Key]
}

// SearchOption: тройка таблица/колонка/тип для внешнего поиска.
type SearchOption struct {
	ID       int    `json:"id"`
	Table    string `json:"table"`
	Field    string `json:"field"`
	Name     string `json:"name"`
	Datatype string `json:"datatype"`
	Itemtype string `json:"itemtype,omitempty"`
}

// SearchOptions детерминированы для одних и тех же метаданных; сортировка по ID.
func (t *AssetType) SearchOptions() []SearchOption {
	out := []SearchOption{
		{ID: coreSearchIDs["id"], Table: t.Table, Field: "id", Name: "ID", Datatype: "itemlink"},
		{ID: coreSearchIDs["entities_id"], Table: t.Table, Field: "entities_id", Name: "Entity", Datatype: "dropdown", Itemtype: "Entity"},
		{ID: coreSearchIDs["date_mod"], Table: t.Table, Field: "date_mod", Name: "Last update", Datatype: fieldtype.TypeDatetime},
		{ID: coreSearchIDs["date_creation"], Table: t.Table, Field: "date_creation", Name: "Creation date", Datatype: fieldtype.TypeDatetime},
	}
	for _, f := range t.fields {
		o := SearchOption{ID: f.SearchID, Table: t.Table, Field: f.Key, Name: f.Label, Datatype: f.Type}
		if f.Type == fieldtype.TypeDropdown {
			o.Itemtype = f.Options.String("itemtype")
			if target, ok := fieldtype.TargetTable(o.Itemtype); ok && !f.Options.Bool("multiple") {
				o.Table = target
				o.Field = "name"
			}
		}
		out = append(out, o)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func capacityColumnType(c schema.Column) (string, fieldtype.Options) {
	switch c.Kind {
	case schema.KindRef:
		if c.Name == "contracts_id" {
			return fieldtype.TypeDropdown, fieldtype.Options{"itemtype": "Contract"}
		}
		return fieldtype.TypeString, fieldtype.Options{}
	case schema.KindText:
		return fieldtype.TypeText, fieldtype.Options{}
	case schema.KindInt:
		return fieldtype.TypeNumber, fieldtype.Options{}
	case schema.KindDecimal, schema.KindFloat:
		return fieldtype.TypeNumber, fieldtype.Options{"decimals": 2}
	case schema.KindBool:
		return fieldtype.TypeBoolean, fieldtype.Options{}
	case schema.KindDate:
		return fieldtype.TypeDate, fieldtype.Options{}
	case schema.KindDateTime:
		return fieldtype.TypeDatetime, fieldtype.Options{}
	default:
		return fieldtype.TypeString, fieldtype.Options{}
	}
}

// columnLabel: "warranty_duration" -> "Warranty duration".
func columnLabel(col string) string {
	s := strings.ReplaceAll(strings.TrimSuffix(col, "_id"), "_", " ")
	if s == "" {
		return col
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
