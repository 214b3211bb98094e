package definition

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"assetforge/internal/fieldtype"
	"assetforge/internal/schema"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	db, err := schema.Open(schema.SQLite, ":memory:", schema.OpenOptions{LogLevel: logger.Silent})
	require.NoError(t, err)
	t.Cleanup(func() { _ = schema.Close(db) })
	s := NewStore(db, nil)
	require.NoError(t, s.AutoMigrate(context.Background()))
	return s
}

func createDef(t *testing.T, s *Store, name string) *AssetDefinition {
	t.Helper()
	d := &AssetDefinition{SystemName: name, Label: name}
	require.NoError(t, d.SetFieldsDisplay(DefaultDisplay()))
	d.SetCapacityList(nil)
	require.NoError(t, s.CreateDefinition(context.Background(), d))
	return d
}

func TestDecodedFieldsDisplaySorted(t *testing.T) {
	d := &AssetDefinition{FieldsDisplay: []byte(`[{"key":"b","order":2},{"key":"z","order":1},{"key":"a","order":1}]`)}
	got, err := d.DecodedFieldsDisplay()
	require.NoError(t, err)
	keys := []string{got[0].Key, got[1].Key, got[2].Key}
	assert.Equal(t, []string{"a", "z", "b"}, keys)

	empty := &AssetDefinition{}
	got, err = empty.DecodedFieldsDisplay()
	require.NoError(t, err)
	assert.Empty(t, got)

	bad := &AssetDefinition{SystemName: "X", FieldsDisplay: []byte(`{`)}
	_, err = bad.DecodedFieldsDisplay()
	require.Error(t, err)
}

func TestSetFieldsDisplayRenumbers(t *testing.T) {
	d := &AssetDefinition{}
	require.NoError(t, d.SetFieldsDisplay([]FieldDisplay{{Key: "comment", Order: 40}, {Key: "name", Order: 10}}))
	got, err := d.DecodedFieldsDisplay()
	require.NoError(t, err)
	assert.Equal(t, []FieldDisplay{{Key: "name", Order: 0}, {Key: "comment", Order: 1}}, got)
}

func TestAllFieldsMandatoryOnly(t *testing.T) {
	s := newStore(t)
	d := createDef(t, s, "Tablet")

	fields, err := s.AllFields(context.Background(), d)
	require.NoError(t, err)
	require.Len(t, fields, 2)
	assert.Equal(t, "name", fields[0].Key)
	assert.Equal(t, "comment", fields[1].Key)
	assert.True(t, fields[0].Mandatory)
	assert.False(t, fields[0].Custom)
}

func TestAllFieldsWithCustomAndGlobal(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	d := createDef(t, s, "Tablet")

	owned := &CustomFieldDefinition{AssetDefinitionID: &d.ID, SystemName: "serial", Label: "Serial", Type: fieldtype.TypeText}
	require.NoError(t, owned.SetOptions(fieldtype.Options{}))
	require.NoError(t, s.CreateCustomField(ctx, owned))

	global := &CustomFieldDefinition{SystemName: "color", Type: fieldtype.TypeDropdown}
	require.NoError(t, global.SetOptions(fieldtype.Options{"itemtype": "Dropdown:Color"}))
	require.NoError(t, s.CreateCustomField(ctx, global))

	display := append(DefaultDisplay(),
		FieldDisplay{Key: "serial", Order: 5, FieldOptions: map[string]any{"required": true}},
		FieldDisplay{Key: "color", Order: 6},
	)
	require.NoError(t, d.SetFieldsDisplay(display))
	require.NoError(t, s.SaveDefinition(ctx, d))

	fields, err := s.AllFields(ctx, d)
	require.NoError(t, err)
	require.Len(t, fields, 4)
	assert.Equal(t, "serial", fields[2].Key)
	assert.True(t, fields[2].Custom)
	assert.True(t, fields[2].EffectiveOptions().Bool("required"))
	assert.Equal(t, "color", fields[3].Key)
	assert.True(t, fields[3].Global)
	assert.Equal(t, "Dropdown:Color", fields[3].Options.String("itemtype"))

	list, err := s.ListFields(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "comment", "serial", "color"}, keysOf(list))
}

func TestHiddenFieldStaysAvailable(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	d := createDef(t, s, "Tablet")

	cf := &CustomFieldDefinition{AssetDefinitionID: &d.ID, SystemName: "serial", Type: fieldtype.TypeText}
	require.NoError(t, s.CreateCustomField(ctx, cf))

	avail, err := s.AvailableFields(ctx, d)
	require.NoError(t, err)

	var keys []string
	for _, f := range avail {
		keys = append(keys, f.Key)
	}
	assert.Contains(t, keys, "serial")
	assert.Contains(t, keys, "otherserial")
	assert.NotContains(t, keys, "name")
}

func TestListFieldsUnknownKey(t *testing.T) {
	s := newStore(t)
	d := createDef(t, s, "Tablet")
	require.NoError(t, d.SetFieldsDisplay(append(DefaultDisplay(), FieldDisplay{Key: "ghost", Order: 9})))

	_, err := s.ListFields(context.Background(), d)
	require.True(t, errors.Is(err, ErrUnknownField))
}

func TestLookupsAndNotFound(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	d := createDef(t, s, "Smartphone")

	got, err := s.DefinitionByName(ctx, "smartPHONE")
	require.NoError(t, err)
	assert.Equal(t, d.ID, got.ID)
	assert.Equal(t, "assets_smartphones", got.GeneratedTable())

	taken, err := s.DefinitionNameTaken(ctx, "SMARTPHONE")
	require.NoError(t, err)
	assert.True(t, taken)

	_, err = s.Definition(ctx, 999)
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, s.DeleteDefinition(ctx, d.ID))
	assert.True(t, errors.Is(s.DeleteDefinition(ctx, d.ID), ErrNotFound))
}

func TestCapacityAndProfileHelpers(t *testing.T) {
	d := &AssetDefinition{}
	d.SetCapacityList([]string{"B", "A", "B"})
	assert.Equal(t, []string{"A", "B"}, d.CapacityList())
	assert.True(t, d.HasCapacity("A"))
	assert.False(t, d.HasCapacity("C"))

	d.SetProfileRights(map[string]int{"4": 31})
	assert.Equal(t, 31, d.ProfileRights()["4"])
}

func TestCorruptedJSONColumns(t *testing.T) {
	d := &AssetDefinition{
		SystemName:   "Tablet",
		Capacities:   []byte(`["History"`),
		Profiles:     []byte(`{"4": "all"}`),
		Translations: []byte(`not json`),
	}

	_, err := d.DecodedCapacities()
	assert.ErrorContains(t, err, "definition Tablet: invalid capacities")
	_, err = d.DecodedProfiles()
	assert.ErrorContains(t, err, "definition Tablet: invalid profiles")
	_, err = decodeTranslations(d.Translations)
	assert.ErrorContains(t, err, "invalid translations")

	// удобные обёртки предупреждают в лог и отдают пустое
	assert.Empty(t, d.CapacityList())
	assert.Empty(t, d.ProfileRights())
	assert.Empty(t, d.TranslationMap())
}

func TestValidateNames(t *testing.T) {
	require.NoError(t, ValidateSystemName("Smartphone2"))
	require.Error(t, ValidateSystemName("2phone"))
	require.Error(t, ValidateSystemName("smart_phone"))
	require.Error(t, ValidateSystemName(""))

	require.NoError(t, ValidateFieldName("serial"))
	require.Error(t, ValidateFieldName("Serial"))
	require.Error(t, ValidateFieldName("name"))
	require.Error(t, ValidateFieldName("is_deleted"))
	require.Error(t, ValidateFieldName("contracts_id"))
	require.Error(t, ValidateFieldName("select"))

	var ve *fieldtype.ValidationError
	require.True(t, errors.As(ValidateFieldName("name"), &ve))
	assert.Equal(t, "system_name", ve.Field)
}

func TestMandatoryTable(t *testing.T) {
	tbl, err := MandatoryTable("assets_tablets", fieldtype.Default())
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "entities_id", "is_deleted", "date_creation", "date_mod", "name", "comment"}, tbl.ColumnNames())
}

func keysOf(list []FieldDisplay) []string {
	out := make([]string, 0, len(list))
	for _, f := range list {
		out = append(out, f.Key)
	}
	return out
}
