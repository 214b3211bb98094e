package dsl

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var (
	assetRe      = regexp.MustCompile(`^asset\s+([A-Za-z][A-Za-z0-9]*)\s*:(.*)$`)
	dropdownRe   = regexp.MustCompile(`^dropdown\s+([A-Za-z][A-Za-z0-9]*)\s*:(.*)$`)
	capacitiesRe = regexp.MustCompile(`^capacities\s*:(.*)$`)
	profilesRe   = regexp.MustCompile(`^profiles\s*:(.*)$`)
	fieldRe      = regexp.MustCompile(`^([a-z][a-z0-9_]*)\s*:\s*([A-Za-z]+)(.*)$`)
)

// splitOptionTokens делит `k=v k2='v 2' flag` на токены, не разрывая кавычки.
func splitOptionTokens(s string) []string {
	var out []string
	var buf []rune
	inSingle, inDouble := false, false

	flush := func() {
		if len(buf) > 0 {
			out = append(out, string(buf))
			buf = buf[:0]
		}
	}
	for _, r := range s {
		switch {
		case r == '\'' && !inDouble:
			inSingle = !inSingle
			buf = append(buf, r)
		case r == '"' && !inSingle:
			inDouble = !inDouble
			buf = append(buf, r)
		case (r == ' ' || r == '\t' || r == ',') && !inSingle && !inDouble:
			flush()
		default:
			buf = append(buf, r)
		}
	}
	flush()
	return out
}

// parseOptions: флаг без значения - "true", кавычки снимаются, ключи в нижнем регистре.
func parseOptions(raw string) map[string]string {
	out := map[string]string{}
	for _, tok := range splitOptionTokens(stripComment(raw)) {
		k, v, ok := strings.Cut(tok, "=")
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if !ok {
			out[k] = "true"
			continue
		}
		out[k] = unquote(strings.TrimSpace(v))
	}
	return out
}

func unquote(v string) string {
	if len(v) >= 2 && (v[0] == '"' && v[len(v)-1] == '"' || v[0] == '\'' && v[len(v)-1] == '\'') {
		return v[1 : len(v)-1]
	}
	return v
}

// stripComment срезает `# ...` вне кавычек.
func stripComment(s string) string {
	inSingle, inDouble := false, false
	for i, r := range s {
		switch r {
		case '\'':
			if !inDouble {
				inSingle = !inSingle
			}
		case '"':
			if !inSingle {
				inDouble = !inDouble
			}
		case '#':
			if !inSingle && !inDouble {
				return strings.TrimSpace(s[:i])
			}
		}
	}
	return strings.TrimSpace(s)
}

// Parse читает один seed-файл. name используется в сообщениях об ошибках.
func Parse(r io.Reader, name string) (*File, error) {
	out := &File{}
	var current *Asset
	lineNo := 0

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		where := fmt.Sprintf("%s:%d", name, lineNo)

		if m := assetRe.FindStringSubmatch(line); m != nil {
			current = &Asset{Name: m[1], Options: parseOptions(m[2]), Profiles: map[string]int{}, Source: where}
			out.Assets = append(out.Assets, current)
			continue
		}
		if m := dropdownRe.FindStringSubmatch(line); m != nil {
			current = nil
			out.Dropdowns = append(out.Dropdowns, &Dropdown{Name: m[1], Options: parseOptions(m[2]), Source: where})
			continue
		}
		if current == nil {
			return nil, fmt.Errorf("%s: %q outside of an asset block", where, line)
		}
		if m := capacitiesRe.FindStringSubmatch(line); m != nil {
			current.Capacities = append(current.Capacities, splitOptionTokens(stripComment(m[1]))...)
			continue
		}
		if m := profilesRe.FindStringSubmatch(line); m != nil {
			for k, v := range parseOptions(m[1]) {
				mask, err := strconv.Atoi(v)
				if err != nil {
					return nil, fmt.Errorf("%s: profile %s: right mask must be an integer", where, k)
				}
				current.Profiles[k] = mask
			}
			continue
		}
		if m := fieldRe.FindStringSubmatch(line); m != nil {
			for _, f := range current.Fields {
				if f.Name == m[1] {
					return nil, fmt.Errorf("%s: duplicate field %q in asset %s", where, m[1], current.Name)
				}
			}
			current.Fields = append(current.Fields, Field{
				Name:    m[1],
				Type:    strings.ToLower(m[2]),
				Options: parseOptions(m[3]),
			})
			continue
		}
		return nil, fmt.Errorf("%s: cannot parse %q", where, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func LoadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f, path)
}

// LoadAll обходит каталог рекурсивно и собирает все *.dsl; имена не должны повторяться.
func LoadAll(root string) (*File, error) {
	result := &File{}
	assets := map[string]string{}
	dropdowns := map[string]string{}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(d.Name()), ".dsl") {
			return nil
		}
		f, err := LoadFile(path)
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		for _, a := range f.Assets {
			key := strings.ToLower(a.Name)
			if prev, ok := assets[key]; ok {
				return fmt.Errorf("duplicate asset %q (%s and %s)", a.Name, prev, a.Source)
			}
			assets[key] = a.Source
			result.Assets = append(result.Assets, a)
		}
		for _, dd := range f.Dropdowns {
			key := strings.ToLower(dd.Name)
			if prev, ok := dropdowns[key]; ok {
				return fmt.Errorf("duplicate dropdown %q (%s and %s)", dd.Name, prev, dd.Source)
			}
			dropdowns[key] = dd.Source
			result.Dropdowns = append(result.Dropdowns, dd)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
