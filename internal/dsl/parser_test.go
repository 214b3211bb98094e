package dsl

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
# seed
dropdown Color: label="Colour" comment='phone colours'

asset Smartphone: label="Smart phone" icon=ti-device-mobile active
  capacities: HasContractsCapacity IsReservableCapacity
  profiles: 4=31 5=1
  otherserial: core
  imei: string required maxlength=15 label="IMEI"   # identifier
  color: dropdown itemtype=Dropdown:Color
  notes: text hidden
  warranty_months: number min=0 max=120 default=12
`

func TestParse(t *testing.T) {
	f, err := Parse(strings.NewReader(sample), "sample.dsl")
	require.NoError(t, err)

	require.Len(t, f.Dropdowns, 1)
	assert.Equal(t, "Color", f.Dropdowns[0].Name)
	assert.Equal(t, "Colour", f.Dropdowns[0].Label())
	assert.Equal(t, "phone colours", f.Dropdowns[0].Options["comment"])

	require.Len(t, f.Assets, 1)
	a := f.Assets[0]
	assert.Equal(t, "Smartphone", a.Name)
	assert.Equal(t, "Smart phone", a.Label())
	assert.True(t, a.Active())
	assert.Equal(t, "ti-device-mobile", a.Options["icon"])
	assert.Equal(t, []string{"HasContractsCapacity", "IsReservableCapacity"}, a.Capacities)
	assert.Equal(t, map[string]int{"4": 31, "5": 1}, a.Profiles)
	assert.Equal(t, "sample.dsl:5", a.Source)

	require.Len(t, a.Fields, 5)
	assert.Equal(t, CoreType, a.Fields[0].Type)

	imei := a.Fields[1]
	assert.Equal(t, "string", imei.Type)
	assert.Equal(t, "IMEI", imei.Label())
	assert.Equal(t, map[string]any{"required": true, "maxlength": float64(15)}, imei.TypeOptions())
	assert.Nil(t, imei.Default())

	assert.Equal(t, "Dropdown:Color", a.Fields[2].Options["itemtype"])
	assert.True(t, a.Fields[3].Hidden())
	assert.NotContains(t, a.Fields[3].TypeOptions(), "hidden")

	def := a.Fields[4].Default()
	require.NotNil(t, def)
	assert.Equal(t, "12", *def)
}

func TestParseErrors(t *testing.T) {
	cases := map[string]string{
		"field outside asset": "serial: string\n",
		"bad profile mask":    "asset A:\n  profiles: 4=all\n",
		"duplicate field":     "asset A:\n  x: string\n  x: text\n",
		"garbage":             "asset A:\n  ???\n",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(src), "bad.dsl")
			assert.Error(t, err)
		})
	}
}

func TestSplitOptionTokens(t *testing.T) {
	got := splitOptionTokens(`a=1, b='x y' c="q, r" flag`)
	assert.Equal(t, []string{"a=1", "b='x y'", `c="q, r"`, "flag"}, got)
	assert.Equal(t, "label=\"a # b\"", stripComment(`label="a # b" # tail`))
}

func TestLoadAll(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "phones"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "base.dsl"), []byte("dropdown Color: label=Colour\nasset Tablet:\n  serial: string\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "phones", "phone.DSL"), []byte("asset Smartphone:\n  imei: string\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("asset Ignored:\n"), 0o644))

	f, err := LoadAll(root)
	require.NoError(t, err)
	assert.Len(t, f.Assets, 2)
	assert.Len(t, f.Dropdowns, 1)

	require.NoError(t, os.WriteFile(filepath.Join(root, "dup.dsl"), []byte("asset tablet:\n"), 0o644))
	_, err = LoadAll(root)
	assert.ErrorContains(t, err, "duplicate asset")
}
