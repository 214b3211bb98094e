package manager

import (
	"context"
	"errors"
	"fmt"

	"assetforge/internal/capacity"
	"assetforge/internal/definition"
	"assetforge/internal/dsl"
	"assetforge/internal/fieldtype"
	"assetforge/internal/logging"
	"assetforge/internal/reference"
)

// SeedReport: что реально было создано при загрузке seed-файлов.
type SeedReport struct {
	DropdownsCreated   int `json:"dropdowns_created"`
	ItemsInserted      int `json:"items_inserted"`
	DefinitionsCreated int `json:"definitions_created"`
	FieldsAdded        int `json:"fields_added"`
	CapacitiesEnabled  int `json:"capacities_enabled"`
}

// Seed применяет seed-файлы и каталоги. Повторный запуск ничего не ломает:
// существующие списки и определения дополняются, но не пересоздаются.
func (m *Manager) Seed(ctx context.Context, f *dsl.File, catalogs map[string]reference.Catalog) (SeedReport, error) {
	var rep SeedReport
	if f == nil {
		f = &dsl.File{}
	}

	for _, dd := range f.Dropdowns {
		created, err := m.ensureDropdown(ctx, dd.Name, dd.Label(), dd.Options["comment"])
		if err != nil {
			return rep, fmt.Errorf("%s: dropdown %s: %w", dd.Source, dd.Name, err)
		}
		if created {
			rep.DropdownsCreated++
		}
	}
	for _, name := range reference.Names(catalogs) {
		c := catalogs[name]
		created, err := m.ensureDropdown(ctx, c.Name, c.Label, c.Comment)
		if err != nil {
			return rep, fmt.Errorf("catalog %s: %w", name, err)
		}
		if created {
			rep.DropdownsCreated++
		}
		items := make([]DropdownItem, 0, len(c.Items))
		for _, it := range c.Items {
			items = append(items, DropdownItem{Code: it.Code, Name: it.Name, Comment: it.Comment, Ranking: it.Order})
		}
		n, err := m.AddDropdownItems(ctx, c.Name, items)
		if err != nil {
			return rep, fmt.Errorf("catalog %s: %w", name, err)
		}
		rep.ItemsInserted += n
	}

	for _, a := range f.Assets {
		if err := m.seedAsset(ctx, a, &rep); err != nil {
			return rep, fmt.Errorf("%s: asset %s: %w", a.Source, a.Name, err)
		}
	}
	logging.Info("seed applied", "dropdowns", rep.DropdownsCreated, "items", rep.ItemsInserted,
		"definitions", rep.DefinitionsCreated, "fields", rep.FieldsAdded)
	return rep, nil
}

func (m *Manager) ensureDropdown(ctx context.Context, name, label, comment string) (bool, error) {
	_, err := m.store.DropdownByName(ctx, name)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, definition.ErrNotFound) {
		return false, err
	}
	if _, err := m.CreateDropdown(ctx, DropdownSpec{SystemName: name, Label: label, Comment: comment}); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) seedAsset(ctx context.Context, a *dsl.Asset, rep *SeedReport) error {
	def, err := m.store.DefinitionByName(ctx, a.Name)
	switch {
	case errors.Is(err, definition.ErrNotFound):
		def, err = m.CreateDefinition(ctx, Spec{
			SystemName: a.Name,
			Label:      a.Label(),
			Icon:       a.Options["icon"],
			Comment:    a.Options["comment"],
			IsActive:   a.Active(),
			Profiles:   a.Profiles,
		})
		if err != nil {
			return err
		}
		rep.DefinitionsCreated++
	case err != nil:
		return err
	}

	if len(a.Capacities) > 0 {
		have := def.CapacityList()
		wanted := append(append([]string(nil), have...), a.Capacities...)
		if added := diff(capacity.Normalize(wanted), have); len(added) > 0 {
			if def, err = m.SetCapacities(ctx, def.ID, wanted); err != nil {
				return err
			}
			rep.CapacitiesEnabled += len(added)
		}
	}

	display, err := def.DecodedFieldsDisplay()
	if err != nil {
		return err
	}
	shown := make(map[string]struct{}, len(display))
	for _, fd := range display {
		shown[fd.Key] = struct{}{}
	}

	var core []definition.FieldDisplay
	for _, fl := range a.Fields {
		if fl.Type == dsl.CoreType {
			if _, ok := definition.LookupCore(fl.Name); !ok {
				return fmt.Errorf("unknown core field %q", fl.Name)
			}
			if _, ok := shown[fl.Name]; !ok {
				core = append(core, definition.FieldDisplay{Key: fl.Name})
			}
			continue
		}
		if _, err := m.store.CustomField(ctx, def.ID, fl.Name); err == nil {
			continue
		} else if !errors.Is(err, definition.ErrNotFound) {
			return err
		}
		label := fl.Label()
		if label == "" {
			label = fl.Name
		}
		_, err := m.AddCustomField(ctx, def.ID, CustomFieldSpec{
			SystemName:   fl.Name,
			Label:        label,
			Type:         fl.Type,
			DefaultValue: fl.Default(),
			Options:      fieldtype.Options(fl.TypeOptions()),
			Hidden:       fl.Hidden(),
		})
		if err != nil {
			return fmt.Errorf("field %s: %w", fl.Name, err)
		}
		rep.FieldsAdded++
	}

	if len(core) == 0 {
		return nil
	}
	// поля могли добавиться выше, раскладку перечитываем
	if def, err = m.store.Definition(ctx, def.ID); err != nil {
		return err
	}
	if display, err = def.DecodedFieldsDisplay(); err != nil {
		return err
	}
	for i := range core {
		core[i].Order = len(display)
		display = append(display, core[i])
	}
	if _, err := m.UpdateFields(ctx, def.ID, display); err != nil {
		return err
	}
	rep.FieldsAdded += len(core)
	return nil
}

// SeedDirs загружает *.dsl из dslDir и YAML-каталоги из catalogDir
// (любой из путей может быть пустым) и применяет их через Seed.
func (m *Manager) SeedDirs(ctx context.Context, dslDir, catalogDir string) (SeedReport, error) {
	var (
		f        *dsl.File
		catalogs map[string]reference.Catalog
		err      error
	)
	if dslDir != "" {
		if f, err = dsl.LoadAll(dslDir); err != nil {
			return SeedReport{}, fmt.Errorf("load seed files: %w", err)
		}
	}
	if catalogDir != "" {
		if catalogs, err = reference.LoadCatalogs(catalogDir); err != nil {
			return SeedReport{}, fmt.Errorf("load dropdown catalogs: %w", err)
		}
	}
	return m.Seed(ctx, f, catalogs)
}
