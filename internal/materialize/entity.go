package materialize

import (
	"fmt"
	"sort"
	"time"

	"assetforge/internal/capacity"
	"assetforge/internal/fieldtype"
)

// Entity: одна строка сгенерированной таблицы, живёт в пределах запроса.
type Entity struct {
	ID           string
	EntitiesID   string
	IsDeleted    bool
	DateCreation time.Time
	DateMod      time.Time

	typ    *AssetType
	values map[string]any // в виде хранения
	orig   map[string]any
	dirty  map[string]struct{}
}

var systemKeys = map[string]struct{}{
	"id": {}, "entities_id": {}, "is_deleted": {}, "date_creation": {}, "date_mod": {},
}

// NewEntity: пустая запись с применёнными значениями по умолчанию.
func (t *AssetType) NewEntity() (*Entity, error) {
	e := &Entity{typ: t, values: map[string]any{}, orig: map[string]any{}, dirty: map[string]struct{}{}}
	var errs fieldtype.ValidationErrors
	for _, f := range t.fields {
		if f.Default == nil {
			continue
		}
		v, err := fieldtype.Check(f.strategy, f.Key, *f.Default, f.Options)
		if err != nil {
			errs = appendValidation(errs, f.Key, err)
			continue
		}
		e.values[f.Key] = v
		e.dirty[f.Key] = struct{}{}
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Entity) Type() *AssetType { return e.typ }

// Get: значение поля в виде API.
func (e *Entity) Get(key string) (any, error) {
	f, ok := e.typ.Field(key)
	if !ok {
		return nil, fmt.Errorf("%s.%s: %w", e.typ.SystemName, key, ErrUnknownField)
	}
	return f.strategy.Decode(e.values[key], f.Options), nil
}

// Set валидирует значение стратегией поля и запоминает его.
// Системные колонки и поля с опцией readonly не пишутся.
func (e *Entity) Set(key string, raw any) error {
	if _, sys := systemKeys[key]; sys {
		return &fieldtype.ValidationError{Code: fieldtype.CodeReadOnly, Field: key, Message: "field is read-only"}
	}
	f, ok := e.typ.Field(key)
	if !ok {
		return &fieldtype.ValidationError{Code: fieldtype.CodeUnknownField, Field: key, Message: "unknown field"}
	}
	if f.Options.Bool("readonly") {
		return &fieldtype.ValidationError{Code: fieldtype.CodeReadOnly, Field: key, Message: "field is read-only"}
	}
	v, err := fieldtype.Check(f.strategy, key, raw, f.Options)
	if err != nil {
		return err
	}
	e.values[key] = v
	e.dirty[key] = struct{}{}
	return nil
}

// Apply: Set для набора значений; ошибки собираются все, по имени поля.
func (e *Entity) Apply(data map[string]any) error {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var errs fieldtype.ValidationErrors
	for _, k := range keys {
		if err := e.Set(k, data[k]); err != nil {
			errs = appendValidation(errs, k, err)
		}
	}
	return errs.Err()
}

func appendValidation(errs fieldtype.ValidationErrors, field string, err error) fieldtype.ValidationErrors {
	if ve, ok := err.(*fieldtype.ValidationError); ok {
		return append(errs, ve)
	}
	return append(errs, &fieldtype.ValidationError{Code: fieldtype.CodeTypeMismatch, Field: field, Message: err.Error()})
}

// Values: запись целиком в виде API.
func (e *Entity) Values() map[string]any {
	out := map[string]any{
		"id":         e.ID,
		"is_deleted": e.IsDeleted,
	}
	if e.EntitiesID != "" {
		out["entities_id"] = e.EntitiesID
	}
	if !e.DateCreation.IsZero() {
		out["date_creation"] = e.DateCreation.UTC().Format(time.RFC3339)
	}
	if !e.DateMod.IsZero() {
		out["date_mod"] = e.DateMod.UTC().Format(time.RFC3339)
	}
	for _, f := range e.typ.fields {
		out[f.Key] = f.strategy.Decode(e.values[f.Key], f.Options)
	}
	return out
}

// Formatted: человекочитаемые значения полей.
func (e *Entity) Formatted() map[string]string {
	out := make(map[string]string, len(e.typ.fields))
	for _, f := range e.typ.fields {
		out[f.Key] = f.strategy.Format(e.values[f.Key], f.Options)
	}
	return out
}

// Changes: реально изменённые поля (для истории), по порядку полей типа.
func (e *Entity) Changes() []capacity.FieldChange {
	var out []capacity.FieldChange
	for _, f := range e.typ.fields {
		if _, ok := e.dirty[f.Key]; !ok {
			continue
		}
		oldV := f.strategy.Decode(e.orig[f.Key], f.Options)
		newV := f.strategy.Decode(e.values[f.Key], f.Options)
		if fmt.Sprint(oldV) == fmt.Sprint(newV) {
			continue
		}
		out = append(out, capacity.FieldChange{Field: f.Key, Old: oldV, New: newV})
	}
	return out
}

func (e *Entity) dirtyKeys() []string {
	out := make([]string, 0, len(e.dirty))
	for _, f := range e.typ.fields {
		if _, ok := e.dirty[f.Key]; ok {
			out = append(out, f.Key)
		}
	}
	return out
}

// markClean: после записи текущие значения становятся исходными.
func (e *Entity) markClean() {
	e.orig = make(map[string]any, len(e.values))
	for k, v := range e.values {
		e.orig[k] = v
	}
	e.dirty = map[string]struct{}{}
}
