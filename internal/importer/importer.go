// Package importer переносит типы, справочники и данные старого плагина
// genericobject в определения активов.
package importer

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"assetforge/internal/definition"
	"assetforge/internal/fieldtype"
	"assetforge/internal/logging"
	"assetforge/internal/manager"
	"assetforge/internal/materialize"
	"assetforge/internal/metrics"
)

var tracer = otel.Tracer("assetforge/importer")

const defaultBatch = 200

// Result: итог прогона. Ошибки строк не прерывают импорт.
type Result struct {
	CreatedDefinitions []string             `json:"created_definitions"`
	CreatedDropdowns   []string             `json:"created_dropdowns"`
	MigratedRows       int                  `json:"migrated_rows"`
	Errors             []*MigrationRowError `json:"-"`
}

type Importer struct {
	m     *manager.Manager
	mat   *materialize.Materializer
	repo  *materialize.Repository
	Batch int
}

func New(m *manager.Manager, mat *materialize.Materializer, repo *materialize.Repository) *Importer {
	return &Importer{m: m, mat: mat, repo: repo, Batch: defaultBatch}
}

// ProcessMigration читает схему источника целиком, затем создаёт справочники
// и определения через менеджер и переносит строки. Ошибка уровня схемы
// прерывает прогон; уже созданные определения остаются.
func (im *Importer) ProcessMigration(ctx context.Context, source *gorm.DB) (Result, error) {
	ctx, span := tracer.Start(ctx, "Importer.ProcessMigration")
	defer span.End()

	var res Result
	p, err := readPlan(ctx, source)
	if err != nil {
		return res, err
	}
	span.SetAttributes(attribute.Int("types", len(p.Types)), attribute.Int("dropdowns", len(p.Dropdowns)))

	items := map[string]map[string]string{}
	for _, dd := range p.Dropdowns {
		created, ids, err := im.migrateDropdown(ctx, source, dd)
		if err != nil {
			span.RecordError(err)
			return res, err
		}
		if created {
			res.CreatedDropdowns = append(res.CreatedDropdowns, dd.SystemName)
		}
		items[dd.SystemName] = ids
	}

	for _, tp := range p.Types {
		def, err := im.createDefinition(ctx, tp)
		if err != nil {
			span.RecordError(err)
			return res, &MigrationSchemaError{Table: tp.Table, Err: err}
		}
		res.CreatedDefinitions = append(res.CreatedDefinitions, def.SystemName)

		n, rowErrs, err := im.migrateRows(ctx, source, tp, def, items)
		res.MigratedRows += n
		res.Errors = append(res.Errors, rowErrs...)
		if err != nil {
			span.RecordError(err)
			return res, &MigrationSchemaError{Table: tp.Table, Err: err}
		}
		if !tp.Active {
			// строки переносятся в активное определение, выключаем после
			inactive := false
			if _, err := im.m.UpdateDefinition(ctx, def.ID, manager.Patch{IsActive: &inactive}); err != nil {
				return res, &MigrationSchemaError{Table: tp.Table, Err: err}
			}
		}
	}

	logging.Info("migration finished",
		"definitions", len(res.CreatedDefinitions),
		"dropdowns", len(res.CreatedDropdowns),
		"rows", res.MigratedRows,
		"row_errors", len(res.Errors),
	)
	return res, nil
}

// migrateDropdown создаёт справочник (если его ещё нет) и переносит элементы.
// Возвращает соответствие старого id новому.
func (im *Importer) migrateDropdown(ctx context.Context, source *gorm.DB, dd dropdownPlan) (bool, map[string]string, error) {
	created := false
	def, err := im.m.Store().DropdownByName(ctx, dd.SystemName)
	switch {
	case errors.Is(err, definition.ErrNotFound):
		if def, err = im.m.CreateDropdown(ctx, manager.DropdownSpec{SystemName: dd.SystemName, Label: dd.SystemName}); err != nil {
			return false, nil, &MigrationSchemaError{Table: dd.Table, Err: err}
		}
		created = true
	case err != nil:
		return false, nil, &MigrationSchemaError{Table: dd.Table, Err: err}
	}

	var rows []map[string]any
	if err := source.WithContext(ctx).Table(dd.Table).Order("id").Find(&rows).Error; err != nil {
		return created, nil, &MigrationSchemaError{Table: dd.Table, Err: errors.Wrap(err, "read lookup table")}
	}
	batch := make([]manager.DropdownItem, 0, len(rows))
	for _, r := range rows {
		batch = append(batch, manager.DropdownItem{
			Code:    fieldtype.AsString(r["id"]),
			Name:    fieldtype.AsString(r["name"]),
			Comment: fieldtype.AsString(r["comment"]),
		})
	}
	if _, err := im.m.AddDropdownItems(ctx, dd.SystemName, batch); err != nil {
		return created, nil, &MigrationSchemaError{Table: dd.Table, Err: err}
	}

	var mapped []struct {
		ID   string
		Code string
	}
	if err := im.m.DB().WithContext(ctx).Table(def.GeneratedTable()).Select("id, code").Scan(&mapped).Error; err != nil {
		return created, nil, &MigrationSchemaError{Table: def.GeneratedTable(), Err: errors.Wrap(err, "read migrated items")}
	}
	ids := make(map[string]string, len(mapped))
	for _, m := range mapped {
		if m.Code != "" {
			ids[m.Code] = m.ID
		}
	}
	return created, ids, nil
}

// createDefinition строит определение целиком или не оставляет ничего:
// при ошибке после создания определение удаляется вместе с таблицей.
func (im *Importer) createDefinition(ctx context.Context, tp typePlan) (_ *definition.AssetDefinition, err error) {
	ctx, span := tracer.Start(ctx, "Importer.createDefinition")
	defer span.End()
	span.SetAttributes(attribute.String("definition", tp.SystemName))

	def, err := im.m.CreateDefinition(ctx, manager.Spec{
		SystemName: tp.SystemName,
		Label:      tp.SystemName,
		Comment:    tp.Comment,
		IsActive:   true,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "create definition %s", tp.SystemName)
	}
	id, name := def.ID, def.SystemName
	defer func() {
		if err != nil {
			im.discard(ctx, id, name)
		}
	}()
	if len(tp.Capacities) > 0 {
		if def, err = im.m.SetCapacities(ctx, def.ID, tp.Capacities); err != nil {
			return nil, errors.Wrapf(err, "enable capacities of %s", tp.SystemName)
		}
	}
	for _, c := range tp.Customs {
		if _, err := im.m.AddCustomField(ctx, def.ID, c.Spec); err != nil {
			return nil, errors.Wrapf(err, "field %s.%s", tp.SystemName, c.Spec.SystemName)
		}
	}
	if len(tp.Core) > 0 {
		if def, err = im.m.Store().Definition(ctx, def.ID); err != nil {
			return nil, err
		}
		display, err := def.DecodedFieldsDisplay()
		if err != nil {
			return nil, err
		}
		for _, key := range tp.Core {
			display = append(display, definition.FieldDisplay{Key: key, Order: len(display)})
		}
		if def, err = im.m.UpdateFields(ctx, def.ID, display); err != nil {
			return nil, errors.Wrapf(err, "layout of %s", tp.SystemName)
		}
	}
	return def, nil
}

// discard удаляет определение, созданное этим прогоном. Строки в него
// ещё не переносились, поэтому терять нечего.
func (im *Importer) discard(ctx context.Context, id uint, name string) {
	if err := im.m.DeleteDefinition(ctx, id, name); err != nil {
		logging.Error("failed to discard partial definition", "definition", name, "error", err.Error())
		return
	}
	logging.Warn("partial definition discarded", "definition", name)
}

// legacyRef: в старой схеме 0 означает отсутствие ссылки.
func legacyRef(v any) string {
	s := strings.TrimSpace(fieldtype.AsString(v))
	if s == "0" {
		return ""
	}
	return s
}

func (im *Importer) migrateRows(ctx context.Context, source *gorm.DB, tp typePlan, def *definition.AssetDefinition, items map[string]map[string]string) (int, []*MigrationRowError, error) {
	ctx, span := tracer.Start(ctx, "Importer.migrateRows")
	defer span.End()
	span.SetAttributes(attribute.String("table", tp.Table))

	typ, err := im.mat.TypeFor(ctx, def.ID)
	if err != nil {
		return 0, nil, err
	}
	refs := make(map[string]dropdownRef, len(tp.Refs))
	for _, r := range tp.Refs {
		refs[r.Column] = r
	}
	mx := metrics.Get()

	migrated := 0
	var rowErrs []*MigrationRowError
	batch := im.Batch
	if batch <= 0 {
		batch = defaultBatch
	}
	for offset := 0; ; offset += batch {
		var rows []map[string]any
		if err := source.WithContext(ctx).Table(tp.Table).Order("id").Limit(batch).Offset(offset).Find(&rows).Error; err != nil {
			return migrated, rowErrs, errors.Wrapf(err, "read %s", tp.Table)
		}
		for _, row := range rows {
			if err := im.migrateRow(ctx, typ, tp, refs, items, row); err != nil {
				re := &MigrationRowError{Table: tp.Table, RowID: fieldtype.AsString(row["id"]), Err: err}
				logging.Warn("legacy row not migrated", "table", re.Table, "row", re.RowID, "error", err.Error())
				mx.ImportFailuresRows.Inc()
				rowErrs = append(rowErrs, re)
				continue
			}
			mx.ImportedRowsTotal.Inc()
			migrated++
		}
		if len(rows) < batch {
			return migrated, rowErrs, nil
		}
	}
}

func (im *Importer) migrateRow(ctx context.Context, typ *materialize.AssetType, tp typePlan, refs map[string]dropdownRef, items map[string]map[string]string, row map[string]any) error {
	e, err := typ.NewEntity()
	if err != nil {
		return err
	}
	e.EntitiesID = legacyRef(row["entities_id"])

	values := map[string]any{
		"name":    row["name"],
		"comment": row["comment"],
	}
	for _, key := range tp.Core {
		f, _ := typ.Field(key)
		if f.Type == fieldtype.TypeDropdown {
			values[key] = legacyRef(row[key])
		} else {
			values[key] = row[key]
		}
	}
	for _, c := range tp.Customs {
		ref, isRef := refs[c.Column]
		if !isRef {
			values[c.Spec.SystemName] = row[c.Column]
			continue
		}
		old := legacyRef(row[c.Column])
		if old == "" {
			continue
		}
		id, ok := items[ref.Dropdown][old]
		if !ok {
			return errors.Errorf("%s: unknown %s id %s", c.Column, ref.Dropdown, old)
		}
		values[ref.Field] = id
	}
	if err := e.Apply(values); err != nil {
		return err
	}
	if err := im.repo.Create(ctx, e); err != nil {
		return err
	}
	if fieldtype.AsBool(row["is_deleted"]) {
		return im.repo.Delete(ctx, typ, e.ID)
	}
	return nil
}
