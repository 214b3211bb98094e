package manager

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"assetforge/internal/capacity"
	"assetforge/internal/definition"
	"assetforge/internal/dsl"
	"assetforge/internal/fieldtype"
	"assetforge/internal/reference"
	"assetforge/internal/schema"
)

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := schema.Open(schema.SQLite, ":memory:", schema.OpenOptions{LogLevel: logger.Silent})
	require.NoError(t, err)
	t.Cleanup(func() { _ = schema.Close(db) })
	return db
}

func newManager(t *testing.T, opts Options) (*Manager, *gorm.DB) {
	t.Helper()
	db := openDB(t)
	m := New(db, opts)
	require.NoError(t, m.Migrate(context.Background()))
	return m, db
}

func ptr[T any](v T) *T { return &v }

func columns(t *testing.T, db *gorm.DB, table string) []string {
	t.Helper()
	cols, err := schema.Columns(context.Background(), db, table)
	require.NoError(t, err)
	return cols
}

func displayKeys(t *testing.T, def *definition.AssetDefinition) []string {
	t.Helper()
	fd, err := def.DecodedFieldsDisplay()
	require.NoError(t, err)
	out := make([]string, 0, len(fd))
	for _, f := range fd {
		out = append(out, f.Key)
	}
	return out
}

func insertRow(t *testing.T, db *gorm.DB, table string, values map[string]any) {
	t.Helper()
	row := map[string]any{"id": "01HZX" + strings.Repeat("0", 21), "name": "row", "is_deleted": false}
	for k, v := range values {
		row[k] = v
	}
	require.NoError(t, db.Table(table).Create(row).Error)
}

func TestCreateDefinition(t *testing.T) {
	m, db := newManager(t, Options{})
	ctx := context.Background()

	def, err := m.CreateDefinition(ctx, Spec{SystemName: "Tablet", IsActive: true, Profiles: map[string]int{"4": 31}})
	require.NoError(t, err)
	assert.Equal(t, "assets_tablets", def.GeneratedTable())
	assert.Equal(t, "Tablet", def.Label)
	assert.Equal(t, []string{"name", "comment"}, displayKeys(t, def))
	assert.Empty(t, def.CapacityList())

	assert.ElementsMatch(t,
		[]string{"id", "entities_id", "is_deleted", "date_creation", "date_mod", "name", "comment"},
		columns(t, db, "assets_tablets"))

	tok, err := m.Tokens().Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), tok)

	_, err = m.CreateDefinition(ctx, Spec{SystemName: "tablet"})
	assert.ErrorIs(t, err, definition.ErrDuplicateSystemName)

	_, err = m.CreateDefinition(ctx, Spec{SystemName: "1bad"})
	var ve *fieldtype.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "system_name", ve.Field)

	_, err = m.CreateDefinition(ctx, Spec{SystemName: "Phone", Profiles: map[string]int{"4": 64}})
	assert.Error(t, err)
	assert.False(t, schema.HasTable(ctx, db, "assets_phones"))
}

func TestCreateDefinitionRefusesExistingTable(t *testing.T) {
	m, db := newManager(t, Options{})
	require.NoError(t, db.Exec(`create table assets_routers (id text)`).Error)

	_, err := m.CreateDefinition(context.Background(), Spec{SystemName: "Router"})
	assert.ErrorIs(t, err, ErrTableExists)
	taken, err := m.Store().DefinitionNameTaken(context.Background(), "Router")
	require.NoError(t, err)
	assert.False(t, taken)
}

func TestTabletSerialScenario(t *testing.T) {
	m, db := newManager(t, Options{})
	ctx := context.Background()

	def, err := m.CreateDefinition(ctx, Spec{SystemName: "Tablet"})
	require.NoError(t, err)

	cf, err := m.AddCustomField(ctx, def.ID, CustomFieldSpec{SystemName: "serial", Label: "Serial", Type: "string", Options: fieldtype.Options{"maxlength": 64}})
	require.NoError(t, err)
	assert.Equal(t, def.ID, *cf.AssetDefinitionID)
	assert.Contains(t, columns(t, db, "assets_tablets"), "serial")

	def, err = m.Store().Definition(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "comment", "serial"}, displayKeys(t, def))

	fields, err := m.Store().AllFields(ctx, def)
	require.NoError(t, err)
	require.Len(t, fields, 3)
	assert.True(t, fields[2].Custom)
	assert.Equal(t, "Serial", fields[2].Label)

	_, err = m.AddCustomField(ctx, def.ID, CustomFieldSpec{SystemName: "serial", Type: "text"})
	assert.ErrorIs(t, err, definition.ErrDuplicateSystemName)

	// пока данных нет, тип можно менять
	cf, err = m.UpdateCustomField(ctx, def.ID, "serial", CustomFieldPatch{Type: ptr("text")})
	require.NoError(t, err)
	assert.Equal(t, "text", cf.Type)

	insertRow(t, db, "assets_tablets", map[string]any{"serial": "SN-1"})

	_, err = m.UpdateCustomField(ctx, def.ID, "serial", CustomFieldPatch{Type: ptr("number")})
	assert.ErrorIs(t, err, ErrTypeImmutable)

	cf, err = m.UpdateCustomField(ctx, def.ID, "serial", CustomFieldPatch{Label: ptr("Serial number")})
	require.NoError(t, err)
	assert.Equal(t, "Serial number", cf.Label)

	// удаление поля: колонка и данные остаются
	require.NoError(t, m.RemoveCustomField(ctx, def.ID, "serial"))
	def, err = m.Store().Definition(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "comment"}, displayKeys(t, def))
	assert.Contains(t, columns(t, db, "assets_tablets"), "serial")
	var serial string
	require.NoError(t, db.Raw(`select serial from assets_tablets`).Scan(&serial).Error)
	assert.Equal(t, "SN-1", serial)

	// колонка-сирота с данными не переиспользуется под новый тип
	_, err = m.AddCustomField(ctx, def.ID, CustomFieldSpec{SystemName: "serial", Type: "number"})
	assert.ErrorIs(t, err, ErrTypeImmutable)
}

func TestAddCustomFieldReusesEmptyOrphanColumn(t *testing.T) {
	m, db := newManager(t, Options{})
	ctx := context.Background()

	def, err := m.CreateDefinition(ctx, Spec{SystemName: "Tablet"})
	require.NoError(t, err)
	_, err = m.AddCustomField(ctx, def.ID, CustomFieldSpec{SystemName: "weight", Type: "string"})
	require.NoError(t, err)
	require.NoError(t, m.RemoveCustomField(ctx, def.ID, "weight"))

	cf, err := m.AddCustomField(ctx, def.ID, CustomFieldSpec{SystemName: "weight", Type: "number", Options: fieldtype.Options{"decimals": 2}})
	require.NoError(t, err)
	assert.Equal(t, "number", cf.Type)
	assert.Contains(t, columns(t, db, "assets_tablets"), "weight")
}

func TestHiddenCustomField(t *testing.T) {
	m, db := newManager(t, Options{})
	ctx := context.Background()

	def, err := m.CreateDefinition(ctx, Spec{SystemName: "Tablet"})
	require.NoError(t, err)
	_, err = m.AddCustomField(ctx, def.ID, CustomFieldSpec{SystemName: "secret", Type: "text", Hidden: true})
	require.NoError(t, err)

	def, err = m.Store().Definition(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "comment"}, displayKeys(t, def))
	assert.Contains(t, columns(t, db, "assets_tablets"), "secret")

	insertRow(t, db, "assets_tablets", map[string]any{"secret": "kept"})

	avail, err := m.Store().AvailableFields(ctx, def)
	require.NoError(t, err)
	var keys []string
	for _, f := range avail {
		keys = append(keys, f.Key)
	}
	assert.Contains(t, keys, "secret")
	assert.Contains(t, keys, "otherserial")

	// показать снова: данные на месте
	_, err = m.UpdateFields(ctx, def.ID, []definition.FieldDisplay{{Key: "name"}, {Key: "comment", Order: 1}, {Key: "secret", Order: 2}})
	require.NoError(t, err)
	var secret string
	require.NoError(t, db.Raw(`select secret from assets_tablets`).Scan(&secret).Error)
	assert.Equal(t, "kept", secret)
}

func TestUpdateFields(t *testing.T) {
	m, db := newManager(t, Options{})
	ctx := context.Background()

	def, err := m.CreateDefinition(ctx, Spec{SystemName: "Tablet"})
	require.NoError(t, err)

	def, err = m.UpdateFields(ctx, def.ID, []definition.FieldDisplay{
		{Key: "otherserial", Order: 0},
		{Key: "name", Order: 1},
		{Key: "locations_id", Order: 2},
		{Key: "comment", Order: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"otherserial", "name", "locations_id", "comment"}, displayKeys(t, def))
	cols := columns(t, db, "assets_tablets")
	assert.Contains(t, cols, "otherserial")
	assert.Contains(t, cols, "locations_id")

	// убрали из раскладки: колонка остаётся
	_, err = m.UpdateFields(ctx, def.ID, []definition.FieldDisplay{{Key: "name"}, {Key: "comment", Order: 1}})
	require.NoError(t, err)
	assert.Contains(t, columns(t, db, "assets_tablets"), "otherserial")

	_, err = m.UpdateFields(ctx, def.ID, []definition.FieldDisplay{{Key: "comment"}})
	var errs fieldtype.ValidationErrors
	require.ErrorAs(t, err, &errs)
	assert.Equal(t, fieldtype.CodeRequired, errs[0].Code)
	assert.Equal(t, "name", errs[0].Field)

	_, err = m.UpdateFields(ctx, def.ID, []definition.FieldDisplay{{Key: "name"}, {Key: "comment"}, {Key: "nope"}})
	require.ErrorAs(t, err, &errs)
	assert.Equal(t, fieldtype.CodeUnknownField, errs[0].Code)
}

func TestSmartphoneCapacities(t *testing.T) {
	m, db := newManager(t, Options{})
	ctx := context.Background()

	def, err := m.CreateDefinition(ctx, Spec{SystemName: "Smartphone"})
	require.NoError(t, err)

	def, err = m.SetCapacities(ctx, def.ID, []string{capacity.Contracts, capacity.Documents})
	require.NoError(t, err)
	assert.True(t, def.HasCapacity(capacity.Contracts))
	assert.Contains(t, columns(t, db, "assets_smartphones"), "contracts_id")
	assert.True(t, schema.HasTable(ctx, db, "assets_smartphones_documents"))

	// повторное включение идемпотентно
	def, err = m.SetCapacities(ctx, def.ID, []string{capacity.Documents, capacity.Contracts})
	require.NoError(t, err)
	assert.Equal(t, []string{capacity.Contracts, capacity.Documents}, def.CapacityList())

	insertRow(t, db, "assets_smartphones", map[string]any{"contracts_id": "c-1"})

	// выключение: флаг снят, схема и данные остаются
	def, err = m.SetCapacities(ctx, def.ID, nil)
	require.NoError(t, err)
	assert.False(t, def.HasCapacity(capacity.Contracts))
	assert.Contains(t, columns(t, db, "assets_smartphones"), "contracts_id")
	assert.True(t, schema.HasTable(ctx, db, "assets_smartphones_documents"))

	def, err = m.SetCapacities(ctx, def.ID, []string{capacity.Contracts})
	require.NoError(t, err)
	var contract string
	require.NoError(t, db.Raw(`select contracts_id from assets_smartphones`).Scan(&contract).Error)
	assert.Equal(t, "c-1", contract)
}

func TestSetCapacitiesRejectsUnknownAndIncompatible(t *testing.T) {
	m, db := newManager(t, Options{})
	ctx := context.Background()

	def, err := m.CreateDefinition(ctx, Spec{SystemName: "Router"})
	require.NoError(t, err)

	_, err = m.SetCapacities(ctx, def.ID, []string{capacity.Contracts, "HasTeleportCapacity"})
	var unknown *capacity.UnknownCapacityError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "HasTeleportCapacity", unknown.Name)
	assert.NotContains(t, columns(t, db, "assets_routers"), "contracts_id")

	_, err = m.SetCapacities(ctx, def.ID, []string{capacity.Inventoriable})
	var inc *capacity.IncompatibleError
	require.ErrorAs(t, err, &inc)

	def, err = m.SetCapacities(ctx, def.ID, []string{capacity.Inventoriable, capacity.NetworkPorts})
	require.NoError(t, err)
	assert.Contains(t, columns(t, db, "assets_routers"), "is_dynamic")
	assert.True(t, schema.HasTable(ctx, db, "assets_routers_networkports"))
}

func TestDeleteDefinition(t *testing.T) {
	m, db := newManager(t, Options{})
	ctx := context.Background()

	def, err := m.CreateDefinition(ctx, Spec{SystemName: "Tablet"})
	require.NoError(t, err)
	_, err = m.SetCapacities(ctx, def.ID, []string{capacity.History})
	require.NoError(t, err)
	_, err = m.AddCustomField(ctx, def.ID, CustomFieldSpec{SystemName: "serial", Type: "string"})
	require.NoError(t, err)

	assert.ErrorIs(t, m.DeleteDefinition(ctx, def.ID, "Phone"), ErrConfirmation)
	assert.True(t, schema.HasTable(ctx, db, "assets_tablets"))

	require.NoError(t, m.DeleteDefinition(ctx, def.ID, "tablet"))
	assert.False(t, schema.HasTable(ctx, db, "assets_tablets"))
	assert.False(t, schema.HasTable(ctx, db, "assets_tablets_history"))
	_, err = m.Store().Definition(ctx, def.ID)
	assert.ErrorIs(t, err, definition.ErrNotFound)
	owned, err := m.Store().CustomFields(ctx, def.ID)
	require.NoError(t, err)
	assert.Empty(t, owned)

	assert.ErrorIs(t, m.DeleteDefinition(ctx, def.ID, "Tablet"), definition.ErrNotFound)

	// имя снова свободно
	_, err = m.CreateDefinition(ctx, Spec{SystemName: "Tablet"})
	require.NoError(t, err)
}

func TestDropdowns(t *testing.T) {
	m, db := newManager(t, Options{})
	ctx := context.Background()

	dd, err := m.CreateDropdown(ctx, DropdownSpec{SystemName: "Color"})
	require.NoError(t, err)
	assert.Equal(t, "Dropdown:Color", dd.Itemtype())
	assert.True(t, schema.HasTable(ctx, db, "dropdowns_colors"))

	_, err = m.CreateDropdown(ctx, DropdownSpec{SystemName: "color"})
	assert.ErrorIs(t, err, definition.ErrDuplicateSystemName)

	items := []DropdownItem{{Code: "red", Name: "Red"}, {Code: "black", Name: "Black", Ranking: 1}}
	n, err := m.AddDropdownItems(ctx, "Color", items)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = m.AddDropdownItems(ctx, "Color", items)
	require.NoError(t, err)
	assert.Zero(t, n)

	def, err := m.CreateDefinition(ctx, Spec{SystemName: "Smartphone"})
	require.NoError(t, err)

	_, err = m.AddCustomField(ctx, def.ID, CustomFieldSpec{SystemName: "carrier", Type: "dropdown", Options: fieldtype.Options{"itemtype": "Dropdown:Carrier"}})
	var ve *fieldtype.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, fieldtype.CodeBadOptions, ve.Code)

	_, err = m.AddCustomField(ctx, def.ID, CustomFieldSpec{SystemName: "color", Type: "dropdown", Options: fieldtype.Options{"itemtype": "Dropdown:Color"}})
	require.NoError(t, err)

	assert.ErrorIs(t, m.DeleteDropdown(ctx, dd.ID), ErrInUse)

	require.NoError(t, m.RemoveCustomField(ctx, def.ID, "color"))
	require.NoError(t, m.DeleteDropdown(ctx, dd.ID))
	assert.False(t, schema.HasTable(ctx, db, "dropdowns_colors"))
}

func TestGlobalCustomField(t *testing.T) {
	m, db := newManager(t, Options{})
	ctx := context.Background()

	_, err := m.CreateDropdown(ctx, DropdownSpec{SystemName: "Carrier"})
	require.NoError(t, err)

	_, err = m.AddCustomField(ctx, 0, CustomFieldSpec{SystemName: "imei", Type: "string"})
	var ve *fieldtype.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "type", ve.Field)

	cf, err := m.AddCustomField(ctx, 0, CustomFieldSpec{SystemName: "carrier", Type: "dropdown", Options: fieldtype.Options{"itemtype": "Dropdown:Carrier"}})
	require.NoError(t, err)
	assert.True(t, cf.Global())

	phone, err := m.CreateDefinition(ctx, Spec{SystemName: "Smartphone"})
	require.NoError(t, err)
	tablet, err := m.CreateDefinition(ctx, Spec{SystemName: "Tablet"})
	require.NoError(t, err)
	assert.NotContains(t, columns(t, db, "assets_smartphones"), "carrier")

	_, err = m.UpdateFields(ctx, phone.ID, []definition.FieldDisplay{{Key: "name"}, {Key: "comment", Order: 1}, {Key: "carrier", Order: 2}})
	require.NoError(t, err)
	assert.Contains(t, columns(t, db, "assets_smartphones"), "carrier")
	assert.NotContains(t, columns(t, db, "assets_tablets"), "carrier")

	avail, err := m.Store().AvailableFields(ctx, tablet)
	require.NoError(t, err)
	found := false
	for _, f := range avail {
		if f.Key == "carrier" {
			found = f.Global
		}
	}
	assert.True(t, found)

	_, err = m.UpdateCustomField(ctx, 0, "carrier", CustomFieldPatch{Type: ptr("text")})
	require.ErrorAs(t, err, &ve)

	require.NoError(t, m.RemoveCustomField(ctx, 0, "carrier"))
	phone, err = m.Store().Definition(ctx, phone.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "comment"}, displayKeys(t, phone))
}

func TestUpdateDefinition(t *testing.T) {
	m, _ := newManager(t, Options{})
	ctx := context.Background()

	def, err := m.CreateDefinition(ctx, Spec{SystemName: "Tablet"})
	require.NoError(t, err)
	def, err = m.UpdateDefinition(ctx, def.ID, Patch{
		Label:        ptr("Tablets"),
		IsActive:     ptr(true),
		Profiles:     map[string]int{"4": 7},
		Translations: map[string]definition.Translation{"fr_FR": {One: "Tablette", Other: "Tablettes"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Tablets", def.Label)
	assert.True(t, def.IsActive)
	assert.Equal(t, map[string]int{"4": 7}, def.ProfileRights())
	assert.Equal(t, "Tablette", def.TranslationMap()["fr_FR"].One)

	_, err = m.UpdateDefinition(ctx, 999, Patch{Label: ptr("x")})
	assert.ErrorIs(t, err, definition.ErrNotFound)
}

// Одновременные правки определения не блокируются: побеждает последняя
// запись, изменения первой теряются. Известный пробел, версионирования нет.
func TestConcurrentDefinitionEditsLastWriteWins(t *testing.T) {
	m, _ := newManager(t, Options{})
	ctx := context.Background()

	def, err := m.CreateDefinition(ctx, Spec{SystemName: "Tablet", Label: "Tablet"})
	require.NoError(t, err)

	first, err := m.Store().Definition(ctx, def.ID)
	require.NoError(t, err)
	second, err := m.Store().Definition(ctx, def.ID)
	require.NoError(t, err)

	first.Label = "Tablets"
	first.Comment = "field units"
	require.NoError(t, m.Store().SaveDefinition(ctx, first))

	second.Label = "Pads"
	require.NoError(t, m.Store().SaveDefinition(ctx, second))

	got, err := m.Store().Definition(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, "Pads", got.Label)
	assert.Empty(t, got.Comment, "comment from the first edit is lost")

	_, err = m.UpdateDefinition(ctx, def.ID, Patch{Label: ptr("A")})
	require.NoError(t, err)
	_, err = m.UpdateDefinition(ctx, def.ID, Patch{Label: ptr("B")})
	require.NoError(t, err)
	got, err = m.Store().Definition(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, "B", got.Label)
}

type failingTokens struct{ MemoryTokens }

func (*failingTokens) Bump(context.Context) (uint64, error) { return 0, errors.New("redis down") }

func TestTokenBumpFailureDoesNotFailMutation(t *testing.T) {
	m, _ := newManager(t, Options{Tokens: &failingTokens{}})
	_, err := m.CreateDefinition(context.Background(), Spec{SystemName: "Tablet"})
	require.NoError(t, err)
}

func TestRedisTokensKey(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	t.Cleanup(func() { _ = client.Close() })

	assert.Equal(t, DefaultTokenKey, NewRedisTokens(client, "").key)
	assert.Equal(t, "custom:token", NewRedisTokens(client, "custom:token").key)
}

func TestTokensBumpOnEveryMutation(t *testing.T) {
	tokens := NewMemoryTokens()
	m, _ := newManager(t, Options{Tokens: tokens})
	ctx := context.Background()

	def, err := m.CreateDefinition(ctx, Spec{SystemName: "Tablet"})
	require.NoError(t, err)
	_, err = m.SetCapacities(ctx, def.ID, []string{capacity.Notepad})
	require.NoError(t, err)
	_, err = m.SetCapacities(ctx, def.ID, []string{"Bogus"})
	require.Error(t, err)

	n, err := tokens.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
}

func nonTransactional() *schema.Dialect {
	return &schema.Dialect{Name: schema.SQLite, TransactionalDDL: false}
}

func TestDDLFirstCompensatesOnMetadataFailure(t *testing.T) {
	m, db := newManager(t, Options{Dialect: nonTransactional()})
	ctx := context.Background()

	def, err := m.CreateDefinition(ctx, Spec{SystemName: "Tablet"})
	require.NoError(t, err)

	require.NoError(t, db.Callback().Create().Before("gorm:create").Register("test:fail_custom_fields", func(tx *gorm.DB) {
		if tx.Statement.Table == "custom_field_definitions" {
			_ = tx.AddError(errors.New("metadata store unavailable"))
		}
	}))

	_, err = m.AddCustomField(ctx, def.ID, CustomFieldSpec{SystemName: "serial", Type: "string"})
	var se *SchemaSyncError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "metadata", se.Stage)
	assert.NoError(t, se.Compensation)

	assert.NotContains(t, columns(t, db, "assets_tablets"), "serial")
	def, err = m.Store().Definition(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "comment"}, displayKeys(t, def))
}

func TestDDLFirstDeleteAndCapacities(t *testing.T) {
	m, db := newManager(t, Options{Dialect: nonTransactional()})
	ctx := context.Background()

	def, err := m.CreateDefinition(ctx, Spec{SystemName: "Tablet"})
	require.NoError(t, err)
	_, err = m.SetCapacities(ctx, def.ID, []string{capacity.Documents, capacity.Reservable})
	require.NoError(t, err)
	assert.Contains(t, columns(t, db, "assets_tablets"), "is_reservable")

	require.NoError(t, m.DeleteDefinition(ctx, def.ID, "Tablet"))
	assert.False(t, schema.HasTable(ctx, db, "assets_tablets"))
	assert.False(t, schema.HasTable(ctx, db, "assets_tablets_documents"))
}

const seedFile = `
dropdown Carrier: label=Carrier
asset Smartphone: label="Smart phone" active
  capacities: HasContractsCapacity
  profiles: 4=31
  otherserial: core
  imei: string required maxlength=15
  carrier: dropdown itemtype=Dropdown:Carrier
  notes: text hidden
`

func TestSeed(t *testing.T) {
	m, db := newManager(t, Options{})
	ctx := context.Background()

	f, err := dsl.Parse(strings.NewReader(seedFile), "seed.dsl")
	require.NoError(t, err)
	catalogs := map[string]reference.Catalog{
		"Carrier": {Name: "Carrier", Items: []reference.Item{{Code: "att", Name: "AT&T"}, {Code: "vz", Name: "Verizon"}}},
		"Color":   {Name: "Color", Items: []reference.Item{{Code: "red", Name: "Red"}}},
	}

	rep, err := m.Seed(ctx, f, catalogs)
	require.NoError(t, err)
	assert.Equal(t, SeedReport{DropdownsCreated: 2, ItemsInserted: 3, DefinitionsCreated: 1, FieldsAdded: 4, CapacitiesEnabled: 1}, rep)

	def, err := m.Store().DefinitionByName(ctx, "Smartphone")
	require.NoError(t, err)
	assert.True(t, def.IsActive)
	assert.Equal(t, "Smart phone", def.Label)
	assert.Equal(t, []string{"name", "comment", "imei", "carrier", "otherserial"}, displayKeys(t, def))
	cols := columns(t, db, "assets_smartphones")
	for _, c := range []string{"contracts_id", "imei", "carrier", "notes", "otherserial"} {
		assert.Contains(t, cols, c)
	}

	imei, err := m.Store().CustomField(ctx, def.ID, "imei")
	require.NoError(t, err)
	opts, err := imei.Options()
	require.NoError(t, err)
	assert.True(t, opts.Bool("required"))
	assert.Equal(t, 15, opts.Int("maxlength", 0))

	rep, err = m.Seed(ctx, f, catalogs)
	require.NoError(t, err)
	assert.Equal(t, SeedReport{}, rep)
}

func TestSeedDirs(t *testing.T) {
	m, _ := newManager(t, Options{})
	ctx := context.Background()

	dslDir, catDir := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dslDir, "phones.dsl"), []byte(seedFile), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(catDir, "color.yaml"), []byte("name: Color\nitems:\n  - code: red\n    name: Red\n"), 0o644))

	rep, err := m.SeedDirs(ctx, dslDir, catDir)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.DefinitionsCreated)
	assert.Equal(t, 1, rep.ItemsInserted)

	_, err = m.SeedDirs(ctx, filepath.Join(dslDir, "absent"), "")
	assert.Error(t, err)

	rep, err = m.SeedDirs(ctx, "", "")
	require.NoError(t, err)
	assert.Equal(t, SeedReport{}, rep)
}
