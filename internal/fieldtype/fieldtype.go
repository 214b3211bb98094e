// Package fieldtype сопоставляет идентификатор типа пользовательского поля
// со стратегией: колонка, валидация, форматирование, описание контрола формы.
package fieldtype

import (
	"sort"
	"strings"

	"assetforge/internal/schema"
)

// FormInput: описание контрола для рендерера форм (рендер не наш).
type FormInput struct {
	Widget      string         `json:"widget"`
	Name        string         `json:"name"`
	Label       string         `json:"label,omitempty"`
	Value       any            `json:"value"`
	Disabled    bool           `json:"disabled,omitempty"`
	Placeholder string         `json:"placeholder,omitempty"`
	Itemtype    string         `json:"itemtype,omitempty"`
	Multiple    bool           `json:"multiple,omitempty"`
	Attrs       map[string]any `json:"attrs,omitempty"`
}

// FormContext: окружение рендера. nil-функции считаются «доступно».
type FormContext struct {
	Field        string
	Label        string
	TargetExists func(itemtype string) bool
	CanRead      func(itemtype string) bool
}

func (fc FormContext) targetAvailable(itemtype string) bool {
	if fc.TargetExists != nil && !fc.TargetExists(itemtype) {
		return false
	}
	if fc.CanRead != nil && !fc.CanRead(itemtype) {
		return false
	}
	return true
}

func (fc FormContext) input(widget string, value any) FormInput {
	return FormInput{Widget: widget, Name: fc.Field, Label: fc.Label, Value: value}
}

type Strategy interface {
	Name() string
	// Column: физическая колонка под поле.
	Column(name string, opts Options) schema.Column
	// Validate нормализует непустое значение к виду хранения.
	Validate(raw any, opts Options) (any, error)
	// Decode приводит значение из драйвера к виду API.
	Decode(stored any, opts Options) any
	Format(stored any, opts Options) string
	FormInput(value any, opts Options, fc FormContext) FormInput
	CheckOptions(opts Options) error
}

// Resolver: реестр стратегий по имени типа.
type Resolver struct {
	byName map[string]Strategy
}

func NewResolver(strategies ...Strategy) *Resolver {
	r := &Resolver{byName: make(map[string]Strategy, len(strategies))}
	for _, s := range strategies {
		r.byName[s.Name()] = s
	}
	return r
}

var defaultResolver = NewResolver(
	stringType{}, textType{}, numberType{}, booleanType{},
	dateType{}, datetimeType{}, dropdownType{}, urlType{},
)

func Default() *Resolver { return defaultResolver }

// Resolve: неизвестный тип - UnsupportedFieldTypeError.
func (r *Resolver) Resolve(typ string) (Strategy, error) {
	s, ok := r.byName[strings.ToLower(strings.TrimSpace(typ))]
	if !ok {
		return nil, &UnsupportedFieldTypeError{Type: typ}
	}
	return s, nil
}

// Names: поддерживаемые типы по алфавиту.
func (r *Resolver) Names() []string {
	out := make([]string, 0, len(r.byName))
	for n := range r.byName {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Check валидирует значение поля целиком: пустое значение, required, стратегия.
// Пустое значение хранится как NULL.
func Check(s Strategy, field string, raw any, opts Options) (any, error) {
	if isBlank(raw) {
		if opts.Bool("required") {
			return nil, &ValidationError{Code: CodeRequired, Field: field, Message: "value is required"}
		}
		return nil, nil
	}
	v, err := s.Validate(raw, opts)
	if err != nil {
		if ve, ok := err.(*ValidationError); ok {
			ve.Field = field
			return nil, ve
		}
		return nil, &ValidationError{Code: CodeTypeMismatch, Field: field, Message: err.Error()}
	}
	return v, nil
}
