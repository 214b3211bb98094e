package fieldtype

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Options: типоспецифичный JSON-мешок (itemtype, min/max, multiple, ...).
// Неизвестные ключи сохраняются как есть.
type Options map[string]any

// DecodeOptions разбирает field_options; пустой вход: пустой мешок.
func DecodeOptions(raw []byte) (Options, error) {
	o := Options{}
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return o, nil
	}
	if err := json.Unmarshal([]byte(s), &o); err != nil {
		return nil, fmt.Errorf("invalid field options: %w", err)
	}
	return o, nil
}

func (o Options) Encode() ([]byte, error) {
	if o == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(o)
}

func (o Options) Has(key string) bool {
	_, ok := o[key]
	return ok
}

func (o Options) String(key string) string {
	switch v := o[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func (o Options) Bool(key string) bool {
	b, err := toBoolStrict(o[key])
	return err == nil && b
}

// Float возвращает числовую опцию; ok=false если её нет или она не число.
func (o Options) Float(key string) (float64, bool) {
	v, ok := o[key]
	if !ok || v == nil {
		return 0, false
	}
	f, err := toFloatStrict(v)
	if err != nil {
		return 0, false
	}
	return f, true
}

func (o Options) Int(key string, def int) int {
	f, ok := o.Float(key)
	if !ok {
		return def
	}
	return int(f)
}

// Clone: поверхностная копия.
func (o Options) Clone() Options {
	out := make(Options, len(o))
	for k, v := range o {
		out[k] = v
	}
	return out
}

func formatFloat(f float64, decimals int) string {
	if decimals < 0 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'f', decimals, 64)
}
