package definition

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"assetforge/internal/capacity"
	"assetforge/internal/fieldtype"
	"assetforge/internal/schema"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrDuplicateSystemName = errors.New("system name already in use")
)

// CoreField: встроенное поле типа актива.
type CoreField struct {
	Key       string
	Label     string
	Type      string
	Options   fieldtype.Options
	Mandatory bool
}

// Обязательные поля: есть в каждой таблице, всегда в раскладке, в этом порядке.
var mandatoryFields = []CoreField{
	{Key: "name", Label: "Name", Type: fieldtype.TypeString, Mandatory: true},
	{Key: "comment", Label: "Comments", Type: fieldtype.TypeText, Mandatory: true},
}

// Необязательные встроенные поля: колонка появляется при первом добавлении в раскладку.
var optionalFields = []CoreField{
	{Key: "otherserial", Label: "Inventory number", Type: fieldtype.TypeString},
	{Key: "contact", Label: "Alternate username", Type: fieldtype.TypeString},
	{Key: "contact_num", Label: "Alternate username number", Type: fieldtype.TypeString},
	{Key: "uuid", Label: "UUID", Type: fieldtype.TypeString},
	{Key: "locations_id", Label: "Location", Type: fieldtype.TypeDropdown, Options: fieldtype.Options{"itemtype": "Location"}},
	{Key: "states_id", Label: "Status", Type: fieldtype.TypeDropdown, Options: fieldtype.Options{"itemtype": "State"}},
	{Key: "manufacturers_id", Label: "Manufacturer", Type: fieldtype.TypeDropdown, Options: fieldtype.Options{"itemtype": "Manufacturer"}},
	{Key: "users_id_tech", Label: "Technician in charge", Type: fieldtype.TypeDropdown, Options: fieldtype.Options{"itemtype": "User"}},
	{Key: "groups_id_tech", Label: "Group in charge", Type: fieldtype.TypeDropdown, Options: fieldtype.Options{"itemtype": "Group"}},
}

func MandatoryFields() []CoreField { return append([]CoreField(nil), mandatoryFields...) }
func OptionalFields() []CoreField { return append([]CoreField(nil), optionalFields...) }

// LookupCore ищет встроенное поле по ключу.
func LookupCore(key string) (CoreField, bool) {
	for _, f := range mandatoryFields {
		if f.Key == key {
			return f, true
		}
	}
	for _, f := range optionalFields {
		if f.Key == key {
			return f, true
		}
	}
	return CoreField{}, false
}

// DefaultDisplay: раскладка нового определения.
func DefaultDisplay() []FieldDisplay {
	out := make([]FieldDisplay, 0, len(mandatoryFields))
	for i, f := range mandatoryFields {
		out = append(out, FieldDisplay{Key: f.Key, Order: i})
	}
	return out
}

// SystemColumns: служебные колонки, которых нет в раскладке.
func SystemColumns() []schema.Column {
	return []schema.Column{
		{Name: "id", Kind: schema.KindID, Primary: true},
		{Name: "entities_id", Kind: schema.KindRef},
		{Name: "is_deleted", Kind: schema.KindBool, NotNull: true},
		{Name: "date_creation", Kind: schema.KindDateTime},
		{Name: "date_mod", Kind: schema.KindDateTime},
	}
}

// MandatoryTable: таблица нового определения: служебные колонки + name, comment.
func MandatoryTable(name string, types *fieldtype.Resolver) (schema.Table, error) {
	t := schema.Table{Name: name, Columns: SystemColumns()}
	for _, f := range mandatoryFields {
		s, err := types.Resolve(f.Type)
		if err != nil {
			return schema.Table{}, err
		}
		t.Columns = append(t.Columns, s.Column(f.Key, f.Options))
	}
	return t, nil
}

var (
	systemNameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]*$`)
	fieldNameRe  = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
)

// ValidateSystemName: имя определения или выпадающего списка.
func ValidateSystemName(name string) error {
	switch {
	case name == "":
		return &fieldtype.ValidationError{Code: fieldtype.CodeRequired, Field: "system_name", Message: "value is required"}
	case len(name) > 40:
		return &fieldtype.ValidationError{Code: fieldtype.CodeTooLong, Field: "system_name", Message: "must be at most 40 characters"}
	case !systemNameRe.MatchString(name):
		return &fieldtype.ValidationError{Code: fieldtype.CodeInvalid, Field: "system_name", Message: "must start with a letter and contain only letters and digits"}
	}
	return nil
}

// ValidateFieldName: имя пользовательского поля; оно же имя колонки.
func ValidateFieldName(name string) error {
	switch {
	case name == "":
		return &fieldtype.ValidationError{Code: fieldtype.CodeRequired, Field: "system_name", Message: "value is required"}
	case len(name) > 64:
		return &fieldtype.ValidationError{Code: fieldtype.CodeTooLong, Field: "system_name", Message: "must be at most 64 characters"}
	case !fieldNameRe.MatchString(name):
		return &fieldtype.ValidationError{Code: fieldtype.CodeInvalid, Field: "system_name", Message: "must match [a-z][a-z0-9_]*"}
	case schema.IsReserved(name):
		return &fieldtype.ValidationError{Code: fieldtype.CodeInvalid, Field: "system_name", Message: fmt.Sprintf("%q is a reserved word", name)}
	}
	if owner := ReservedColumnOwner(name); owner != "" {
		return &fieldtype.ValidationError{Code: fieldtype.CodeInvalid, Field: "system_name", Message: fmt.Sprintf("%q is already used by %s", name, owner)}
	}
	return nil
}

// ReservedColumnOwner: кому принадлежит колонка с таким именем ("" - свободно).
func ReservedColumnOwner(name string) string {
	name = strings.ToLower(name)
	for _, c := range SystemColumns() {
		if c.Name == name {
			return "a system column"
		}
	}
	if _, ok := LookupCore(name); ok {
		return "a core field"
	}
	for _, d := range capacity.Default().ListAvailable() {
		for _, c := range d.Columns {
			if c.Name == name {
				return d.Name
			}
		}
	}
	return ""
}
