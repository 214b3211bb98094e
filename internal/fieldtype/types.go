package fieldtype

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"assetforge/internal/schema"
)

const (
	TypeString   = "string"
	TypeText     = "text"
	TypeNumber   = "number"
	TypeBoolean  = "boolean"
	TypeDate     = "date"
	TypeDatetime = "datetime"
	TypeDropdown = "dropdown"
	TypeURL      = "url"
)

const defaultMaxLength = 255

func decodeString(stored any) any {
	switch t := stored.(type) {
	case []byte:
		return string(t)
	default:
		return t
	}
}

func formatAny(stored any) string {
	switch t := decodeString(stored).(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// ---------- string ----------

type stringType struct{}

func (stringType) Name() string { return TypeString }

func (stringType) Column(name string, _ Options) schema.Column {
	return schema.Column{Name: name, Kind: schema.KindString}
}

func (stringType) Validate(raw any, opts Options) (any, error) {
	s, err := toStringStrict(raw)
	if err != nil {
		return nil, invalid(CodeTypeMismatch, "%v", err)
	}
	max := opts.Int("maxlength", defaultMaxLength)
	if max > defaultMaxLength || max <= 0 {
		max = defaultMaxLength
	}
	if utf8.RuneCountInString(s) > max {
		return nil, invalid(CodeTooLong, "must be at most %d characters", max)
	}
	return s, nil
}

func (stringType) Decode(stored any, _ Options) any { return decodeString(stored) }
func (stringType) Format(stored any, _ Options) string { return formatAny(stored) }

func (stringType) FormInput(value any, opts Options, fc FormContext) FormInput {
	in := fc.input("text", decodeString(value))
	in.Attrs = map[string]any{"maxlength": opts.Int("maxlength", defaultMaxLength)}
	return in
}

func (stringType) CheckOptions(opts Options) error {
	if !opts.Has("maxlength") {
		return nil
	}
	n, ok := opts.Float("maxlength")
	if !ok || n < 1 || n > defaultMaxLength || n != math.Trunc(n) {
		return invalid(CodeBadOptions, "maxlength must be an integer between 1 and %d", defaultMaxLength)
	}
	return nil
}

// ---------- text ----------

type textType struct{}

func (textType) Name() string { return TypeText }

func (textType) Column(name string, _ Options) schema.Column {
	return schema.Column{Name: name, Kind: schema.KindText}
}

func (textType) Validate(raw any, _ Options) (any, error) {
	s, err := toStringStrict(raw)
	if err != nil {
		return nil, invalid(CodeTypeMismatch, "%v", err)
	}
	return s, nil
}

func (textType) Decode(stored any, _ Options) any { return decodeString(stored) }
func (textType) Format(stored any, _ Options) string { return formatAny(stored) }

func (textType) FormInput(value any, opts Options, fc FormContext) FormInput {
	in := fc.input("textarea", decodeString(value))
	if opts.Bool("enable_richtext") {
		in.Attrs = map[string]any{"richtext": true}
	}
	return in
}

func (textType) CheckOptions(Options) error { return nil }

// ---------- number ----------

// numberType: decimals=0 - целое, иначе десятичное с округлением.
type numberType struct{}

func (numberType) Name() string { return TypeNumber }

func (numberType) Column(name string, opts Options) schema.Column {
	if opts.Int("decimals", 0) > 0 {
		return schema.Column{Name: name, Kind: schema.KindDecimal}
	}
	return schema.Column{Name: name, Kind: schema.KindInt}
}

func (numberType) Validate(raw any, opts Options) (any, error) {
	f, err := toFloatStrict(raw)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, invalid(CodeTypeMismatch, "must be number")
	}
	if min, ok := opts.Float("min"); ok && f < min {
		return nil, invalid(CodeOutOfRange, "must be >= %s", formatFloat(min, -1))
	}
	if max, ok := opts.Float("max"); ok && f > max {
		return nil, invalid(CodeOutOfRange, "must be <= %s", formatFloat(max, -1))
	}
	if step, ok := opts.Float("step"); ok && step > 0 {
		base, _ := opts.Float("min")
		q := (f - base) / step
		if math.Abs(q-math.Round(q)) > 1e-9 {
			return nil, invalid(CodeOutOfRange, "must be a multiple of %s", formatFloat(step, -1))
		}
	}
	decimals := opts.Int("decimals", 0)
	if decimals <= 0 {
		n, err := toIntStrict(raw)
		switch {
		case errors.Is(err, errIntRange):
			return nil, invalid(CodeOutOfRange, "must fit in a 64-bit integer")
		case err != nil:
			return nil, invalid(CodeTypeMismatch, "must be integer")
		}
		return n, nil
	}
	p := math.Pow10(decimals)
	return math.Round(f*p) / p, nil
}

func (numberType) Decode(stored any, opts Options) any {
	if stored == nil {
		return nil
	}
	if opts.Int("decimals", 0) <= 0 {
		if n, err := toIntStrict(stored); err == nil {
			return n
		}
	}
	f, err := toFloatStrict(stored)
	if err != nil {
		return decodeString(stored)
	}
	if opts.Int("decimals", 0) <= 0 {
		return int64(f)
	}
	return f
}

func (t numberType) Format(stored any, opts Options) string {
	switch v := t.Decode(stored, opts).(type) {
	case nil:
		return ""
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return formatFloat(v, opts.Int("decimals", 0))
	default:
		return fmt.Sprint(v)
	}
}

func (t numberType) FormInput(value any, opts Options, fc FormContext) FormInput {
	in := fc.input("number", t.Decode(value, opts))
	in.Attrs = map[string]any{}
	for _, k := range []string{"min", "max", "step"} {
		if f, ok := opts.Float(k); ok {
			in.Attrs[k] = f
		}
	}
	return in
}

func (numberType) CheckOptions(opts Options) error {
	for _, k := range []string{"min", "max", "step", "decimals"} {
		if opts.Has(k) {
			if _, ok := opts.Float(k); !ok {
				return invalid(CodeBadOptions, "%s must be a number", k)
			}
		}
	}
	min, hasMin := opts.Float("min")
	max, hasMax := opts.Float("max")
	if hasMin && hasMax && min > max {
		return invalid(CodeBadOptions, "min must not exceed max")
	}
	if step, ok := opts.Float("step"); ok && step <= 0 {
		return invalid(CodeBadOptions, "step must be positive")
	}
	if d := opts.Int("decimals", 0); d < 0 || d > 4 {
		return invalid(CodeBadOptions, "decimals must be between 0 and 4")
	}
	return nil
}

// ---------- boolean ----------

type booleanType struct{}

func (booleanType) Name() string { return TypeBoolean }

func (booleanType) Column(name string, _ Options) schema.Column {
	return schema.Column{Name: name, Kind: schema.KindBool}
}

func (booleanType) Validate(raw any, _ Options) (any, error) {
	b, err := toBoolStrict(raw)
	if err != nil {
		return nil, invalid(CodeTypeMismatch, "%v", err)
	}
	return b, nil
}

func (booleanType) Decode(stored any, _ Options) any {
	if stored == nil {
		return nil
	}
	b, err := toBoolStrict(stored)
	if err != nil {
		return nil
	}
	return b
}

func (t booleanType) Format(stored any, opts Options) string {
	switch t.Decode(stored, opts) {
	case true:
		return "Yes"
	case false:
		return "No"
	}
	return ""
}

func (t booleanType) FormInput(value any, opts Options, fc FormContext) FormInput {
	return fc.input("checkbox", t.Decode(value, opts))
}

func (booleanType) CheckOptions(Options) error { return nil }

// ---------- date ----------

const dateLayout = "2006-01-02"

type dateType struct{}

func (dateType) Name() string { return TypeDate }

func (dateType) Column(name string, _ Options) schema.Column {
	return schema.Column{Name: name, Kind: schema.KindDate}
}

func (dateType) Validate(raw any, _ Options) (any, error) {
	if tm, ok := raw.(time.Time); ok {
		return tm.Format(dateLayout), nil
	}
	s, err := toStringStrict(raw)
	if err != nil {
		return nil, invalid(CodeTypeMismatch, "%v", err)
	}
	s = strings.TrimSpace(s)
	if _, err := time.Parse(dateLayout, s); err != nil {
		return nil, invalid(CodeInvalid, "must match YYYY-MM-DD")
	}
	return s, nil
}

func (dateType) Decode(stored any, _ Options) any {
	if stored == nil {
		return nil
	}
	if tm, ok := toTime(stored); ok {
		return tm.Format(dateLayout)
	}
	return decodeString(stored)
}

func (t dateType) Format(stored any, opts Options) string { return formatAny(t.Decode(stored, opts)) }

func (t dateType) FormInput(value any, opts Options, fc FormContext) FormInput {
	return fc.input("date", t.Decode(value, opts))
}

func (dateType) CheckOptions(Options) error { return nil }

// ---------- datetime ----------

type datetimeType struct{}

func (datetimeType) Name() string { return TypeDatetime }

func (datetimeType) Column(name string, _ Options) schema.Column {
	return schema.Column{Name: name, Kind: schema.KindDateTime}
}

func (datetimeType) Validate(raw any, _ Options) (any, error) {
	if tm, ok := raw.(time.Time); ok {
		return tm.UTC(), nil
	}
	s, err := toStringStrict(raw)
	if err != nil {
		return nil, invalid(CodeTypeMismatch, "%v", err)
	}
	tm, err := time.Parse(time.RFC3339, strings.TrimSpace(s))
	if err != nil {
		return nil, invalid(CodeInvalid, "must be RFC3339 datetime")
	}
	return tm.UTC(), nil
}

func (datetimeType) Decode(stored any, _ Options) any {
	if stored == nil {
		return nil
	}
	if tm, ok := toTime(stored); ok {
		return tm.UTC().Format(time.RFC3339)
	}
	return decodeString(stored)
}

func (datetimeType) Format(stored any, _ Options) string {
	if tm, ok := toTime(stored); ok {
		return tm.UTC().Format("2006-01-02 15:04")
	}
	return formatAny(stored)
}

func (t datetimeType) FormInput(value any, opts Options, fc FormContext) FormInput {
	return fc.input("datetime", t.Decode(value, opts))
}

func (datetimeType) CheckOptions(Options) error { return nil }

// ---------- dropdown ----------

// DropdownPrefix: itemtype динамических выпадающих списков: "Dropdown:<Name>".
const DropdownPrefix = "Dropdown:"

var coreItemtypes = map[string]string{
	"Location":     "locations",
	"State":        "states",
	"Manufacturer": "manufacturers",
	"User":         "users",
	"Group":        "groups",
	"Contract":     "contracts",
}

// TargetTable: таблица, на которую ссылается itemtype.
func TargetTable(itemtype string) (string, bool) {
	if name, ok := strings.CutPrefix(itemtype, DropdownPrefix); ok {
		if name == "" {
			return "", false
		}
		return schema.TableName("dropdowns", name), true
	}
	t, ok := coreItemtypes[itemtype]
	return t, ok
}

type dropdownType struct{}

func (dropdownType) Name() string { return TypeDropdown }

// Множественный выбор хранится JSON-массивом id в текстовой колонке.
func (dropdownType) Column(name string, opts Options) schema.Column {
	if opts.Bool("multiple") {
		return schema.Column{Name: name, Kind: schema.KindText}
	}
	return schema.Column{Name: name, Kind: schema.KindRef}
}

func refID(v any) (string, error) {
	switch t := v.(type) {
	case string:
		if s := strings.TrimSpace(t); s != "" {
			return s, nil
		}
	case int64, int:
		return fmt.Sprint(t), nil
	case float64:
		if t == math.Trunc(t) {
			return strconv.FormatInt(int64(t), 10), nil
		}
	}
	return "", fmt.Errorf("must be an id")
}

func (dropdownType) Validate(raw any, opts Options) (any, error) {
	if !opts.Bool("multiple") {
		id, err := refID(raw)
		if err != nil {
			return nil, invalid(CodeTypeMismatch, "%v", err)
		}
		return id, nil
	}
	var items []any
	switch t := raw.(type) {
	case []any:
		items = t
	case []string:
		for _, s := range t {
			items = append(items, s)
		}
	case string:
		for _, p := range strings.Split(t, ",") {
			items = append(items, strings.TrimSpace(p))
		}
	default:
		return nil, invalid(CodeTypeMismatch, "must be an array of ids")
	}
	ids := make([]string, 0, len(items))
	for i, it := range items {
		id, err := refID(it)
		if err != nil {
			return nil, invalid(CodeTypeMismatch, "element %d: %v", i, err)
		}
		ids = append(ids, id)
	}
	b, _ := json.Marshal(ids)
	return string(b), nil
}

// IDs возвращает id из значения поля (одиночного или множественного).
func IDs(stored any, opts Options) []string {
	switch v := (dropdownType{}).Decode(stored, opts).(type) {
	case string:
		return []string{v}
	case []string:
		return v
	}
	return nil
}

func (dropdownType) Decode(stored any, opts Options) any {
	stored = decodeString(stored)
	if stored == nil {
		return nil
	}
	if !opts.Bool("multiple") {
		id, err := refID(stored)
		if err != nil {
			return nil
		}
		return id
	}
	s, ok := stored.(string)
	if !ok {
		return nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(s), &ids); err != nil {
		return nil
	}
	return ids
}

func (t dropdownType) Format(stored any, opts Options) string {
	return strings.Join(IDs(stored, opts), ", ")
}

// FormInput: недоступная цель - заглушка, а не ошибка всей формы.
func (t dropdownType) FormInput(value any, opts Options, fc FormContext) FormInput {
	itemtype := opts.String("itemtype")
	in := fc.input("dropdown", t.Decode(value, opts))
	in.Itemtype = itemtype
	in.Multiple = opts.Bool("multiple")
	if _, known := TargetTable(itemtype); !known || !fc.targetAvailable(itemtype) {
		in.Disabled = true
		in.Value = nil
		in.Placeholder = fmt.Sprintf("%s is not available", itemtype)
	}
	return in
}

func (dropdownType) CheckOptions(opts Options) error {
	itemtype := strings.TrimSpace(opts.String("itemtype"))
	if itemtype == "" {
		return invalid(CodeBadOptions, "itemtype is required")
	}
	if _, ok := TargetTable(itemtype); !ok {
		return invalid(CodeBadOptions, "unknown itemtype %q", itemtype)
	}
	return nil
}

// ---------- url ----------

type urlType struct{}

func (urlType) Name() string { return TypeURL }

func (urlType) Column(name string, _ Options) schema.Column {
	return schema.Column{Name: name, Kind: schema.KindText}
}

func (urlType) Validate(raw any, _ Options) (any, error) {
	s, err := toStringStrict(raw)
	if err != nil {
		return nil, invalid(CodeTypeMismatch, "%v", err)
	}
	s = strings.TrimSpace(s)
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return nil, invalid(CodeInvalid, "must be an absolute URL")
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "ftp", "ftps", "sftp":
	default:
		return nil, invalid(CodeInvalid, "unsupported URL scheme %q", u.Scheme)
	}
	return s, nil
}

func (urlType) Decode(stored any, _ Options) any { return decodeString(stored) }
func (urlType) Format(stored any, _ Options) string { return formatAny(stored) }

func (urlType) FormInput(value any, _ Options, fc FormContext) FormInput {
	return fc.input("url", decodeString(value))
}

func (urlType) CheckOptions(Options) error { return nil }
