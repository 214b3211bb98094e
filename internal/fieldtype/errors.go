package fieldtype

import (
	"fmt"
	"strings"
)

// Коды ошибок валидации
const (
	CodeRequired     = "required"
	CodeTypeMismatch = "type_mismatch"
	CodeOutOfRange   = "out_of_range"
	CodeTooLong      = "too_long"
	CodeInvalid      = "invalid_format"
	CodeRefNotFound  = "ref_not_found"
	CodeReadOnly     = "readonly_field"
	CodeUnknownField = "unknown_field"
	CodeBadOptions   = "invalid_options"
)

// ValidationError: ошибка одного поля.
type ValidationError struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(code, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ValidationErrors: все ошибки запроса разом.
type ValidationErrors []*ValidationError

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, e := range v {
		parts = append(parts, e.Error())
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Err возвращает nil для пустого списка (иначе typed-nil в error).
func (v ValidationErrors) Err() error {
	if len(v) == 0 {
		return nil
	}
	return v
}

type UnsupportedFieldTypeError struct {
	Type string
}

func (e *UnsupportedFieldTypeError) Error() string {
	return fmt.Sprintf("unsupported field type %q", e.Type)
}
