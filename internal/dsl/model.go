package dsl

import (
	"strconv"
	"strings"
)

// Asset: определение актива из seed-файла.
type Asset struct {
	Name       string
	Options    map[string]string // label, icon, comment, active, ...
	Capacities []string
	Profiles   map[string]int
	Fields     []Field
	Source     string
}

// Field - строка поля. Type "core" - встроенное необязательное поле в раскладке.
type Field struct {
	Name    string
	Type    string
	Options map[string]string // label, default, hidden, required и опции типа
}

// Dropdown: выпадающий список из seed-файла.
type Dropdown struct {
	Name    string
	Options map[string]string
	Source  string
}

// File: всё, что объявлено в наборе seed-файлов.
type File struct {
	Assets    []*Asset
	Dropdowns []*Dropdown
}

const CoreType = "core"

func (a *Asset) Label() string { return a.Options["label"] }
func (a *Asset) Active() bool { return isTrue(a.Options["active"]) }
func (f Field) Label() string { return f.Options["label"] }
func (f Field) Hidden() bool { return isTrue(f.Options["hidden"]) }
func (d *Dropdown) Label() string { return d.Options["label"] }

// Default: значение по умолчанию (nil, если не задано).
func (f Field) Default() *string {
	v, ok := f.Options["default"]
	if !ok {
		return nil
	}
	return &v
}

// TypeOptions: опции без служебных ключей, значения приведены к bool/числу где возможно.
func (f Field) TypeOptions() map[string]any {
	out := map[string]any{}
	for k, v := range f.Options {
		switch k {
		case "label", "default", "hidden":
			continue
		}
		out[k] = scalar(v)
	}
	return out
}

func scalar(v string) any {
	switch strings.ToLower(v) {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		return n
	}
	return v
}

func isTrue(v string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && b
}
