package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"assetforge/internal/blob"
	"assetforge/internal/capacity"
	"assetforge/internal/definition"
	"assetforge/internal/fieldtype"
	"assetforge/internal/manager"
	"assetforge/internal/materialize"
	"assetforge/internal/rights"
	"assetforge/internal/schema"
)

func newServer(t *testing.T, opts RouterOptions) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db, err := schema.Open(schema.SQLite, ":memory:", schema.OpenOptions{LogLevel: logger.Silent})
	require.NoError(t, err)
	t.Cleanup(func() { _ = schema.Close(db) })

	m := manager.New(db, manager.Options{})
	require.NoError(t, m.Migrate(context.Background()))
	repo, err := materialize.NewRepository(db, blob.NewLocal(t.TempDir()))
	require.NoError(t, err)
	d := &Deps{
		Manager: m,
		Types:   materialize.New(m.Store(), m.Capacities(), m.Tokens(), 0),
		Assets:  repo,
	}
	return NewRouter(d, opts)
}

func call(t *testing.T, r http.Handler, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

type idView struct {
	ID uint `json:"id"`
}

type errorsView struct {
	Errors []fieldtype.ValidationError `json:"errors"`
	Error  string                      `json:"error"`
}

func createDefinition(t *testing.T, r http.Handler, spec manager.Spec) uint {
	t.Helper()
	w := call(t, r, http.MethodPost, "/api/definitions", spec, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[idView](t, w).ID
}

func TestDefinitionAndAssetLifecycle(t *testing.T) {
	r := newServer(t, RouterOptions{})
	id := createDefinition(t, r, manager.Spec{SystemName: "Tablet", Label: "Tablet", IsActive: true})
	base := fmt.Sprintf("/api/definitions/%d", id)

	w := call(t, r, http.MethodPost, base+"/customfields",
		manager.CustomFieldSpec{SystemName: "serial", Label: "Serial", Type: fieldtype.TypeString}, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = call(t, r, http.MethodGet, base+"/fields", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var keys []string
	for _, f := range decode[[]definition.Field](t, w) {
		keys = append(keys, f.Key)
	}
	assert.Equal(t, []string{"name", "comment", "serial"}, keys)

	w = call(t, r, http.MethodPost, "/api/assets/Tablet", map[string]any{"name": "T-1", "serial": "SN-1"}, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[map[string]any](t, w)
	assetID, _ := created["id"].(string)
	require.NotEmpty(t, assetID)
	assetPath := "/api/assets/Tablet/" + assetID

	w = call(t, r, http.MethodGet, "/api/assets/Tablet", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-Total-Count"))
	assert.Len(t, decode[[]map[string]any](t, w), 1)

	w = call(t, r, http.MethodPatch, assetPath, map[string]any{"serial": "SN-2"}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "SN-2", decode[map[string]any](t, w)["serial"])

	w = call(t, r, http.MethodGet, assetPath+"?formatted=1", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decode[map[string]any](t, w), "_formatted")

	// служебные флаги запроса не считаются фильтрами
	w = call(t, r, http.MethodGet, "/api/assets/Tablet?formatted=1", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	listed := decode[[]map[string]any](t, w)
	require.Len(t, listed, 1)
	assert.Contains(t, listed[0], "_formatted")
	w = call(t, r, http.MethodGet, "/api/assets/Tablet/count?formatted=1", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"total":1}`, w.Body.String())

	w = call(t, r, http.MethodDelete, assetPath, nil, "")
	require.Equal(t, http.StatusNoContent, w.Code)
	w = call(t, r, http.MethodGet, "/api/assets/Tablet/count", nil, "")
	assert.JSONEq(t, `{"total":0}`, w.Body.String())
	w = call(t, r, http.MethodGet, "/api/assets/Tablet?deleted=1", nil, "")
	assert.Len(t, decode[[]map[string]any](t, w), 1)

	w = call(t, r, http.MethodPost, assetPath+"/restore", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, false, decode[map[string]any](t, w)["is_deleted"])

	w = call(t, r, http.MethodDelete, base, nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = call(t, r, http.MethodDelete, base+"?confirm=Tablet", nil, "")
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = call(t, r, http.MethodGet, "/api/assets/Tablet", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestValidationAndConflicts(t *testing.T) {
	r := newServer(t, RouterOptions{})

	w := call(t, r, http.MethodPost, "/api/definitions", manager.Spec{SystemName: "1bad"}, "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	ev := decode[errorsView](t, w)
	require.Len(t, ev.Errors, 1)
	assert.Equal(t, fieldtype.CodeInvalid, ev.Errors[0].Code)
	assert.Equal(t, "system_name", ev.Errors[0].Field)

	id := createDefinition(t, r, manager.Spec{SystemName: "Tablet"})
	w = call(t, r, http.MethodPost, "/api/definitions", manager.Spec{SystemName: "tablet"}, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	base := fmt.Sprintf("/api/definitions/%d", id)
	w = call(t, r, http.MethodPost, base+"/customfields",
		manager.CustomFieldSpec{SystemName: "beam", Type: "hologram"}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = call(t, r, http.MethodPut, base+"/capacities", capacitiesRequest{Capacities: []string{"NoSuchCapacity"}}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// неизвестное поле отсекается раньше проверки активности
	w = call(t, r, http.MethodPost, "/api/assets/Tablet", map[string]any{"bogus": 1}, "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, fieldtype.CodeUnknownField, decode[errorsView](t, w).Errors[0].Code)
	w = call(t, r, http.MethodPost, "/api/assets/Tablet", map[string]any{"name": "T"}, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	assert.Equal(t, http.StatusNotFound, call(t, r, http.MethodGet, "/api/definitions/999", nil, "").Code)
	assert.Equal(t, http.StatusBadRequest, call(t, r, http.MethodGet, "/api/definitions/abc", nil, "").Code)

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/definitions", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLayoutBindsTemporaryIDs(t *testing.T) {
	r := newServer(t, RouterOptions{})
	id := createDefinition(t, r, manager.Spec{SystemName: "Smartphone", IsActive: true})
	path := fmt.Sprintf("/api/definitions/%d/layout", id)

	req := map[string]any{
		"fields": []map[string]any{
			{"temp_id": "tmp-1", "system_name": "imei", "label": "IMEI", "type": "string"},
		},
		"layout": []definition.FieldDisplay{
			{Key: "name", Order: 0},
			{Key: "tmp-1", Order: 1},
			{Key: "comment", Order: 2},
		},
	}
	w := call(t, r, http.MethodPost, path, req, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var out struct {
		Session  string             `json:"session"`
		Bindings map[string]string  `json:"bindings"`
		Fields   []definition.Field `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.NotEmpty(t, out.Session)
	assert.Equal(t, map[string]string{"tmp-1": "imei"}, out.Bindings)
	var keys []string
	for _, f := range out.Fields {
		keys = append(keys, f.Key)
	}
	assert.Equal(t, []string{"name", "imei", "comment"}, keys)

	dup := map[string]any{
		"fields": []map[string]any{
			{"temp_id": "t", "system_name": "a1", "type": "string"},
			{"temp_id": "t", "system_name": "a2", "type": "string"},
		},
	}
	assert.Equal(t, http.StatusBadRequest, call(t, r, http.MethodPost, path, dup, "").Code)
}

func TestRightsWithJWT(t *testing.T) {
	auth := NewAuthenticator("s3cret")
	require.NotNil(t, auth)
	r := newServer(t, RouterOptions{Auth: auth})

	admin, err := auth.Issue(rights.Actor{ID: "admin", SuperAdmin: true}, time.Hour)
	require.NoError(t, err)
	tech, err := auth.Issue(rights.Actor{ID: "u1", Profile: "tech"}, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, call(t, r, http.MethodGet, "/api/capacities", nil, "").Code)
	assert.Equal(t, http.StatusUnauthorized, call(t, r, http.MethodGet, "/api/capacities", nil, "garbage").Code)
	assert.Equal(t, http.StatusOK, call(t, r, http.MethodGet, "/api/capacities", nil, tech).Code)

	spec := manager.Spec{SystemName: "Printer", IsActive: true, Profiles: map[string]int{"tech": rights.Read}}
	assert.Equal(t, http.StatusForbidden, call(t, r, http.MethodPost, "/api/definitions", spec, tech).Code)
	w := call(t, r, http.MethodPost, "/api/definitions", spec, admin)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	assert.Equal(t, http.StatusOK, call(t, r, http.MethodGet, "/api/assets/Printer", nil, tech).Code)
	assert.Equal(t, http.StatusForbidden,
		call(t, r, http.MethodPost, "/api/assets/Printer", map[string]any{"name": "P"}, tech).Code)
	assert.Equal(t, http.StatusCreated,
		call(t, r, http.MethodPost, "/api/assets/Printer", map[string]any{"name": "P"}, admin).Code)
}

func TestAuthenticatorParse(t *testing.T) {
	assert.Nil(t, NewAuthenticator(" "))
	auth := NewAuthenticator("s3cret")

	tok, err := auth.Issue(rights.Actor{ID: "u1", Profile: "tech", Denied: []string{"User"}}, time.Minute)
	require.NoError(t, err)
	actor, err := auth.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, rights.Actor{ID: "u1", Profile: "tech", Denied: []string{"User"}}, actor)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1",
		"exp": time.Now().Add(-time.Minute).Unix(),
	})
	s, err := expired.SignedString([]byte("s3cret"))
	require.NoError(t, err)
	_, err = auth.Parse(s)
	assert.Error(t, err)

	other, err := NewAuthenticator("other").Issue(rights.Actor{ID: "u1"}, time.Minute)
	require.NoError(t, err)
	_, err = auth.Parse(other)
	assert.Error(t, err)

	noSub, err := auth.Issue(rights.Actor{}, time.Minute)
	require.NoError(t, err)
	_, err = auth.Parse(noSub)
	assert.Error(t, err)
}

func TestDocumentsUploadAndDownload(t *testing.T) {
	r := newServer(t, RouterOptions{})
	id := createDefinition(t, r, manager.Spec{SystemName: "Laptop", IsActive: true})

	w := call(t, r, http.MethodPost, "/api/assets/Laptop", map[string]any{"name": "L-1"}, "")
	require.Equal(t, http.StatusCreated, w.Code)
	docs := "/api/assets/Laptop/" + decode[map[string]any](t, w)["id"].(string) + "/documents"

	upload := func() *httptest.ResponseRecorder {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("file", "invoice.txt")
		require.NoError(t, err)
		_, err = fw.Write([]byte("paid in full"))
		require.NoError(t, err)
		require.NoError(t, mw.Close())
		req := httptest.NewRequest(http.MethodPost, docs, &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	// без ёмкости документов
	assert.Equal(t, http.StatusNotFound, upload().Code)

	w = call(t, r, http.MethodPut, fmt.Sprintf("/api/definitions/%d/capacities", id),
		capacitiesRequest{Capacities: []string{capacity.Documents}}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = upload()
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	doc := decode[materialize.Document](t, w)
	assert.Equal(t, "invoice.txt", doc.Filename)
	assert.EqualValues(t, len("paid in full"), doc.Size)

	w = call(t, r, http.MethodGet, docs, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]materialize.Document](t, w), 1)

	w = call(t, r, http.MethodGet, docs+"/"+doc.ID, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "paid in full", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "invoice.txt")

	assert.Equal(t, http.StatusNotFound, call(t, r, http.MethodGet, docs+"/nope", nil, "").Code)
}

func TestRateLimitOnDefinitionMutations(t *testing.T) {
	r := newServer(t, RouterOptions{RateRPS: 0.001, RateBurst: 1})

	assert.Equal(t, http.StatusCreated,
		call(t, r, http.MethodPost, "/api/definitions", manager.Spec{SystemName: "Alpha"}, "").Code)
	assert.Equal(t, http.StatusTooManyRequests,
		call(t, r, http.MethodPost, "/api/definitions", manager.Spec{SystemName: "Beta"}, "").Code)
	// чтение не лимитируется
	assert.Equal(t, http.StatusOK, call(t, r, http.MethodGet, "/api/definitions", nil, "").Code)
}

func TestPreviewFieldAndDropdowns(t *testing.T) {
	r := newServer(t, RouterOptions{})
	preview := map[string]any{
		"type":          "dropdown",
		"name":          "color",
		"value":         "1",
		"field_options": map[string]any{"itemtype": "Dropdown:Color"},
	}

	w := call(t, r, http.MethodPost, "/api/fieldtypes/preview", preview, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decode[fieldtype.FormInput](t, w).Disabled)

	w = call(t, r, http.MethodPost, "/api/dropdowns", manager.DropdownSpec{SystemName: "Color", Label: "Color"}, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	ddID := decode[idView](t, w).ID

	w = call(t, r, http.MethodPost, fmt.Sprintf("/api/dropdowns/%d/items", ddID),
		[]manager.DropdownItem{{Code: "red", Name: "Red"}, {Code: "black", Name: "Black"}}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"inserted":2}`, w.Body.String())

	w = call(t, r, http.MethodPost, "/api/fieldtypes/preview", preview, "")
	require.Equal(t, http.StatusOK, w.Code)
	in := decode[fieldtype.FormInput](t, w)
	assert.False(t, in.Disabled)
	assert.Equal(t, "1", in.Value)

	w = call(t, r, http.MethodPost, "/api/fieldtypes/preview", map[string]any{"type": "hologram"}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// общее поле держит список
	w = call(t, r, http.MethodPost, "/api/customfields", manager.CustomFieldSpec{
		SystemName: "color", Label: "Color", Type: fieldtype.TypeDropdown,
		Options: fieldtype.Options{"itemtype": "Dropdown:Color"},
	}, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = call(t, r, http.MethodGet, "/api/customfields", nil, "")
	assert.Len(t, decode[[]map[string]any](t, w), 1)

	w = call(t, r, http.MethodDelete, fmt.Sprintf("/api/dropdowns/%d", ddID), nil, "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCatalogEndpoints(t *testing.T) {
	r := newServer(t, RouterOptions{})

	w := call(t, r, http.MethodGet, "/api/fieldtypes", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decode[[]string](t, w), fieldtype.TypeDropdown)

	w = call(t, r, http.MethodGet, "/api/capacities", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var names []string
	for _, c := range decode[[]capacityView](t, w) {
		names = append(names, c.Name)
	}
	assert.Contains(t, names, capacity.History)

	id := createDefinition(t, r, manager.Spec{SystemName: "Router"})
	w = call(t, r, http.MethodGet, fmt.Sprintf("/api/definitions/%d/searchoptions", id), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	opts := decode[[]materialize.SearchOption](t, w)
	require.NotEmpty(t, opts)
	assert.Equal(t, 1, opts[0].ID)

	w = call(t, r, http.MethodGet, fmt.Sprintf("/api/definitions/%d/fields/available", id), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, decode[[]definition.Field](t, w))
}

func TestRequestIDHeader(t *testing.T) {
	r := newServer(t, RouterOptions{})

	w := call(t, r, http.MethodGet, "/healthz", nil, "")
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "req-42")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-42", w.Header().Get(requestIDHeader))
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fieldtype.ValidationErrors{{Code: fieldtype.CodeRequired, Field: "name"}}, http.StatusBadRequest},
		{&fieldtype.UnsupportedFieldTypeError{Type: "x"}, http.StatusBadRequest},
		{&capacity.UnknownCapacityError{Name: "x"}, http.StatusBadRequest},
		{manager.ErrConfirmation, http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", definition.ErrNotFound), http.StatusNotFound},
		{materialize.ErrCapacityDisabled, http.StatusNotFound},
		{definition.ErrDuplicateSystemName, http.StatusConflict},
		{manager.ErrTypeImmutable, http.StatusConflict},
		{manager.ErrInUse, http.StatusConflict},
		{rights.ErrForbidden, http.StatusForbidden},
		{&manager.SchemaSyncError{Op: "add_custom_field", Err: errors.New("boom")}, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, statusFor(c.err), c.err.Error())
	}
}
