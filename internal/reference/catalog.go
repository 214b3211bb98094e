// Package reference читает YAML-каталоги элементов выпадающих списков.
package reference

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Catalog: элементы одного выпадающего списка. Name совпадает с системным именем списка.
type Catalog struct {
	Name    string `yaml:"name"`
	Label   string `yaml:"label,omitempty"`
	Comment string `yaml:"comment,omitempty"`
	Items   []Item `yaml:"items"`
}

type Item struct {
	Code    string `yaml:"code"`
	Name    string `yaml:"name"`
	Comment string `yaml:"comment,omitempty"`
	Order   int    `yaml:"order,omitempty"`
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// LoadCatalogs читает все *.yaml/*.yml из dir (без рекурсии).
// Имя каталога берётся из поля name, иначе из имени файла.
func LoadCatalogs(dir string) (map[string]Catalog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	result := make(map[string]Catalog)
	for _, e := range entries {
		if e.IsDir() || !isYAML(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		c, err := LoadCatalog(path)
		if err != nil {
			return nil, err
		}
		if c.Name == "" {
			c.Name = strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		}
		if _, dup := result[c.Name]; dup {
			return nil, fmt.Errorf("%s: catalog %q declared twice", path, c.Name)
		}
		result[c.Name] = c
	}
	return result, nil
}

// LoadCatalog читает один файл; элементы сортируются по order, затем по code.
func LoadCatalog(path string) (Catalog, error) {
	var c Catalog
	data, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("%s: %w", path, err)
	}
	seen := map[string]struct{}{}
	for i, it := range c.Items {
		if strings.TrimSpace(it.Name) == "" {
			return c, fmt.Errorf("%s: item #%d has no name", path, i+1)
		}
		if it.Code == "" {
			continue
		}
		if _, dup := seen[it.Code]; dup {
			return c, fmt.Errorf("%s: duplicate item code %q", path, it.Code)
		}
		seen[it.Code] = struct{}{}
	}
	sort.SliceStable(c.Items, func(i, j int) bool {
		if c.Items[i].Order != c.Items[j].Order {
			return c.Items[i].Order < c.Items[j].Order
		}
		return c.Items[i].Code < c.Items[j].Code
	})
	return c, nil
}

// Names: имена каталогов по алфавиту.
func Names(cs map[string]Catalog) []string {
	out := make([]string, 0, len(cs))
	for n := range cs {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
