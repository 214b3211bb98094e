package importer

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"assetforge/internal/blob"
	"assetforge/internal/capacity"
	"assetforge/internal/definition"
	"assetforge/internal/fieldtype"
	"assetforge/internal/manager"
	"assetforge/internal/materialize"
	"assetforge/internal/schema"
)

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := schema.Open(schema.SQLite, ":memory:", schema.OpenOptions{LogLevel: logger.Silent})
	require.NoError(t, err)
	t.Cleanup(func() { _ = schema.Close(db) })
	return db
}

type target struct {
	m    *manager.Manager
	mat  *materialize.Materializer
	repo *materialize.Repository
	im   *Importer
}

func newTarget(t *testing.T) *target {
	t.Helper()
	db := openDB(t)
	m := manager.New(db, manager.Options{})
	require.NoError(t, m.Migrate(context.Background()))
	repo, err := materialize.NewRepository(db, blob.NewLocal(t.TempDir()))
	require.NoError(t, err)
	mat := materialize.New(m.Store(), m.Capacities(), m.Tokens(), 0)
	im := New(m, mat, repo)
	im.Batch = 2
	return &target{m: m, mat: mat, repo: repo, im: im}
}

func exec(t *testing.T, db *gorm.DB, stmts ...string) {
	t.Helper()
	for _, s := range stmts {
		require.NoError(t, db.Exec(s).Error, s)
	}
}

func legacySource(t *testing.T) *gorm.DB {
	t.Helper()
	src := openDB(t)
	exec(t, src,
		`create table glpi_plugin_genericobject_types (
			id integer primary key, name varchar(255), itemtype varchar(255), is_active integer, comment text,
			use_history integer, use_documents integer, use_infocoms integer, use_contracts integer,
			use_notepad integer, use_loans integer, use_network_ports integer)`,
		`insert into glpi_plugin_genericobject_types values
			(1, 'tablet', 'PluginGenericobjectTablet', 1, 'Tablets', 1, 0, 0, 0, 0, 0, 0),
			(2, 'smartphone', 'PluginGenericobjectSmartphone', 1, '', 0, 0, 1, 1, 0, 0, 0),
			(3, 'pager', 'PluginGenericobjectPager', 0, '', 0, 0, 0, 0, 0, 0, 0)`,

		`create table glpi_plugin_genericobject_colors (id integer primary key, name varchar(255), comment text)`,
		`insert into glpi_plugin_genericobject_colors values (1, 'Red', ''), (2, 'Black', 'matte')`,

		`create table glpi_plugin_genericobject_tablets (
			id integer primary key, entities_id integer, name varchar(255), serial varchar(255),
			otherserial varchar(255), locations_id integer, plugin_genericobject_colors_id integer,
			screen_size decimal(5,2), is_rugged tinyint, comment text, is_deleted integer, date_mod datetime)`,
		`insert into glpi_plugin_genericobject_tablets values
			(1, 0, 'Tab A', 'SN-1', 'INV-1', 3, 1, 10.1, 1, 'field unit', 0, null),
			(2, 0, 'Tab B', 'SN-2', '', 0, 2, 8, 0, null, 1, null),
			(3, 0, 'Tab C', 'SN-3', '', 0, 99, 8, 0, null, 0, null)`,

		`create table glpi_plugin_genericobject_smartphones (
			id integer primary key, entities_id integer, name varchar(255), imei varchar(255),
			plugin_genericobject_colors_id integer, contracts_id integer, is_deleted integer)`,
		`insert into glpi_plugin_genericobject_smartphones values (1, 0, 'Pixel', '3520', 2, 0, 0)`,

		`create table glpi_plugin_genericobject_pagers (id integer primary key, name varchar(255), is_deleted integer)`,
		`insert into glpi_plugin_genericobject_pagers values (1, 'Beeper', 0)`,
	)
	return src
}

func TestProcessMigration(t *testing.T) {
	tg := newTarget(t)
	ctx := context.Background()

	res, err := tg.im.ProcessMigration(ctx, legacySource(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"Tablet", "Smartphone", "Pager"}, res.CreatedDefinitions)
	assert.Equal(t, []string{"Color"}, res.CreatedDropdowns)
	assert.Equal(t, 4, res.MigratedRows)

	// строка со ссылкой на несуществующий цвет записана в ошибки, импорт продолжился
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "glpi_plugin_genericobject_tablets", res.Errors[0].Table)
	assert.Equal(t, "3", res.Errors[0].RowID)

	tablet, err := tg.mat.TypeByName(ctx, "Tablet")
	require.NoError(t, err)
	assert.Equal(t, []string{capacity.History}, tablet.Capacities())
	for key, typ := range map[string]string{
		"serial":       fieldtype.TypeString,
		"otherserial":  fieldtype.TypeString,
		"locations_id": fieldtype.TypeDropdown,
		"color":        fieldtype.TypeDropdown,
		"screen_size":  fieldtype.TypeNumber,
		"is_rugged":    fieldtype.TypeBoolean,
	} {
		f, ok := tablet.Field(key)
		if assert.True(t, ok, key) {
			assert.Equal(t, typ, f.Type, key)
		}
	}
	_, ok := tablet.Field("date_mod")
	assert.False(t, ok)

	rows, err := tg.repo.List(ctx, tablet, materialize.ParseListParams(url.Values{}))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	v := rows[0].Values()
	assert.Equal(t, "Tab A", v["name"])
	assert.Equal(t, "INV-1", v["otherserial"])
	assert.Equal(t, "3", v["locations_id"])
	assert.Equal(t, true, v["is_rugged"])
	assert.EqualValues(t, 10.1, v["screen_size"])
	assert.Equal(t, "field unit", v["comment"])

	trash, err := tg.repo.List(ctx, tablet, materialize.ParseListParams(url.Values{"deleted": {"1"}}))
	require.NoError(t, err)
	require.Len(t, trash, 1)
	assert.Equal(t, "Tab B", trash[0].Values()["name"])

	phone, err := tg.mat.TypeByName(ctx, "Smartphone")
	require.NoError(t, err)
	assert.Equal(t, []string{capacity.Contracts, capacity.Infocom}, phone.Capacities())
	_, ok = phone.Field("imei")
	assert.True(t, ok)

	pager, err := tg.m.Store().DefinitionByName(ctx, "Pager")
	require.NoError(t, err)
	assert.False(t, pager.IsActive)
}

func TestProcessMigrationMapsDropdownItems(t *testing.T) {
	tg := newTarget(t)
	ctx := context.Background()

	_, err := tg.im.ProcessMigration(ctx, legacySource(t))
	require.NoError(t, err)

	var items []struct {
		ID   string
		Code string
		Name string
	}
	require.NoError(t, tg.m.DB().Table("dropdowns_colors").Order("code").Scan(&items).Error)
	require.Len(t, items, 2)
	assert.Equal(t, "Red", items[0].Name)

	phone, err := tg.mat.TypeByName(ctx, "Smartphone")
	require.NoError(t, err)
	rows, err := tg.repo.List(ctx, phone, materialize.ListParams{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, items[1].ID, rows[0].Values()["color"])
}

func TestProcessMigrationMissingSchema(t *testing.T) {
	tg := newTarget(t)
	ctx := context.Background()

	res, err := tg.im.ProcessMigration(ctx, openDB(t))
	var se *MigrationSchemaError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, TypesTable, se.Table)
	assert.Empty(t, res.CreatedDefinitions)

	defs, err := tg.m.Store().Definitions(ctx)
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestProcessMigrationMissingTypeTableCreatesNothing(t *testing.T) {
	tg := newTarget(t)
	ctx := context.Background()
	src := openDB(t)
	exec(t, src,
		`create table glpi_plugin_genericobject_types (id integer primary key, name varchar(255), is_active integer, comment text)`,
		`insert into glpi_plugin_genericobject_types values (1, 'tablet', 1, ''), (2, 'scanner', 1, '')`,
		`create table glpi_plugin_genericobject_tablets (id integer primary key, name varchar(255))`,
	)

	_, err := tg.im.ProcessMigration(ctx, src)
	var se *MigrationSchemaError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "glpi_plugin_genericobject_scanners", se.Table)

	// план читается целиком до создания определений
	_, err = tg.m.Store().DefinitionByName(ctx, "Tablet")
	assert.ErrorIs(t, err, definition.ErrNotFound)
}

func TestProcessMigrationDiscardsPartialDefinition(t *testing.T) {
	tg := newTarget(t)
	ctx := context.Background()

	// глобальное поле занимает имя serial, колонка Tablet не добавится
	_, err := tg.m.CreateDropdown(ctx, manager.DropdownSpec{SystemName: "Carrier"})
	require.NoError(t, err)
	_, err = tg.m.AddCustomField(ctx, 0, manager.CustomFieldSpec{
		SystemName: "serial", Type: "dropdown", Options: fieldtype.Options{"itemtype": "Dropdown:Carrier"},
	})
	require.NoError(t, err)

	src := legacySource(t)
	res, err := tg.im.ProcessMigration(ctx, src)
	var se *MigrationSchemaError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "glpi_plugin_genericobject_tablets", se.Table)
	assert.Empty(t, res.CreatedDefinitions)

	_, err = tg.m.Store().DefinitionByName(ctx, "Tablet")
	assert.ErrorIs(t, err, definition.ErrNotFound)
	assert.False(t, schema.HasTable(ctx, tg.m.DB(), "assets_tablets"))

	// после устранения конфликта повторный импорт проходит
	require.NoError(t, tg.m.RemoveCustomField(ctx, 0, "serial"))
	res, err = tg.im.ProcessMigration(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, []string{"Tablet", "Smartphone", "Pager"}, res.CreatedDefinitions)
	assert.Empty(t, res.CreatedDropdowns)
}

func TestProcessMigrationClosedSource(t *testing.T) {
	tg := newTarget(t)
	src := legacySource(t)
	require.NoError(t, schema.Close(src))

	res, err := tg.im.ProcessMigration(context.Background(), src)
	require.Error(t, err)
	assert.Empty(t, res.CreatedDefinitions)
}

func TestInferType(t *testing.T) {
	cases := []struct {
		col  schema.ForeignColumn
		want string
	}{
		{schema.ForeignColumn{Name: "is_rugged", DatabaseType: "int"}, fieldtype.TypeBoolean},
		{schema.ForeignColumn{Name: "ports", DatabaseType: "int"}, fieldtype.TypeNumber},
		{schema.ForeignColumn{Name: "weight", DatabaseType: "decimal"}, fieldtype.TypeNumber},
		{schema.ForeignColumn{Name: "bought", DatabaseType: "date"}, fieldtype.TypeDate},
		{schema.ForeignColumn{Name: "seen", DatabaseType: "timestamp"}, fieldtype.TypeDatetime},
		{schema.ForeignColumn{Name: "notes", DatabaseType: "longtext"}, fieldtype.TypeText},
		{schema.ForeignColumn{Name: "vendor_url", DatabaseType: "varchar"}, fieldtype.TypeURL},
		{schema.ForeignColumn{Name: "tag", DatabaseType: "varchar", Length: 4000}, fieldtype.TypeText},
		{schema.ForeignColumn{Name: "tag", DatabaseType: "varchar"}, fieldtype.TypeString},
	}
	for _, c := range cases {
		got, _ := inferType(c.col)
		assert.Equal(t, c.want, got, c.col.Name)
	}
	assert.Equal(t, "SmartPhone", camel("smart_phone"))
	assert.Equal(t, "glpi_plugin_genericobject_tablets", legacyTable("tablet"))
}
