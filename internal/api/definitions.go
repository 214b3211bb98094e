// Package api: HTTP-поверхность движка: определения, поля, справочники и записи активов.
package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"assetforge/internal/definition"
	"assetforge/internal/editsession"
	"assetforge/internal/manager"
	"assetforge/internal/materialize"
)

// Deps: общие зависимости обработчиков. Состояния запроса не держит.
type Deps struct {
	Manager *manager.Manager
	Types   *materialize.Materializer
	Assets  *materialize.Repository
}

func idParam(c *gin.Context, name string) (uint, bool) {
	n, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || n == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(n), true
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON", "details": err.Error()})
		return false
	}
	return true
}

// GET /api/definitions
func ListDefinitionsHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		defs, err := d.Manager.Store().Definitions(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.Header("X-Total-Count", strconv.Itoa(len(defs)))
		c.JSON(http.StatusOK, defs)
	}
}

// POST /api/definitions
func CreateDefinitionHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var spec manager.Spec
		if !bindJSON(c, &spec) {
			return
		}
		def, err := d.Manager.CreateDefinition(c.Request.Context(), spec)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, def)
	}
}

// GET /api/definitions/:id
func GetDefinitionHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		def, err := d.Manager.Store().Definition(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, def)
	}
}

// PATCH /api/definitions/:id
func UpdateDefinitionHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		var p manager.Patch
		if !bindJSON(c, &p) {
			return
		}
		def, err := d.Manager.UpdateDefinition(c.Request.Context(), id, p)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, def)
	}
}

// DELETE /api/definitions/:id?confirm=<system_name>
func DeleteDefinitionHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		if err := d.Manager.DeleteDefinition(c.Request.Context(), id, c.Query("confirm")); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// GET /api/definitions/:id/fields
func ListFieldsHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		ctx := c.Request.Context()
		def, err := d.Manager.Store().Definition(ctx, id)
		if err != nil {
			writeError(c, err)
			return
		}
		fields, err := d.Manager.Store().AllFields(ctx, def)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, fields)
	}
}

// GET /api/definitions/:id/fields/available
func AvailableFieldsHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		ctx := c.Request.Context()
		def, err := d.Manager.Store().Definition(ctx, id)
		if err != nil {
			writeError(c, err)
			return
		}
		fields, err := d.Manager.Store().AvailableFields(ctx, def)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, fields)
	}
}

// PUT /api/definitions/:id/fields - раскладка целиком.
func UpdateFieldsHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		var display []definition.FieldDisplay
		if !bindJSON(c, &display) {
			return
		}
		ctx := c.Request.Context()
		def, err := d.Manager.UpdateFields(ctx, id, display)
		if err != nil {
			writeError(c, err)
			return
		}
		fields, err := d.Manager.Store().AllFields(ctx, def)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, fields)
	}
}

type layoutField struct {
	TempID string `json:"temp_id"`
	manager.CustomFieldSpec
}

type layoutRequest struct {
	Fields []layoutField              `json:"fields"`
	Layout []definition.FieldDisplay `json:"layout"`
}

// POST /api/definitions/:id/layout
// Новые поля приходят с временными id, раскладка ссылается на них;
// сервер создаёт поля и подставляет настоящие ключи.
func LayoutHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		var req layoutRequest
		if !bindJSON(c, &req) {
			return
		}
		seen := map[string]struct{}{}
		for _, f := range req.Fields {
			if _, dup := seen[f.TempID]; dup || f.TempID == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "every new field needs a unique temp_id"})
				return
			}
			seen[f.TempID] = struct{}{}
		}

		sess := editsession.New()
		ctx := editsession.WithSession(c.Request.Context(), sess)
		for _, f := range req.Fields {
			spec := f.CustomFieldSpec
			spec.Hidden = true
			cf, err := d.Manager.AddCustomField(ctx, id, spec)
			if err != nil {
				writeError(c, err)
				return
			}
			if err := sess.Bind(f.TempID, cf.SystemName); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		for i := range req.Layout {
			req.Layout[i].Key = sess.Resolve(req.Layout[i].Key)
		}
		def, err := d.Manager.UpdateFields(ctx, id, req.Layout)
		if err != nil {
			writeError(c, err)
			return
		}
		fields, err := d.Manager.Store().AllFields(ctx, def)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"session":  sess.ID,
			"bindings": sess.Bindings(),
			"fields":   fields,
		})
	}
}

// POST /api/definitions/:id/customfields
func AddCustomFieldHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		var spec manager.CustomFieldSpec
		if !bindJSON(c, &spec) {
			return
		}
		cf, err := d.Manager.AddCustomField(c.Request.Context(), id, spec)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, cf)
	}
}

// PATCH /api/definitions/:id/customfields/:name
func UpdateCustomFieldHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		var p manager.CustomFieldPatch
		if !bindJSON(c, &p) {
			return
		}
		cf, err := d.Manager.UpdateCustomField(c.Request.Context(), id, c.Param("name"), p)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, cf)
	}
}

// DELETE /api/definitions/:id/customfields/:name - колонка с данными остаётся.
func RemoveCustomFieldHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		if err := d.Manager.RemoveCustomField(c.Request.Context(), id, c.Param("name")); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// GET /api/customfields: общие поля.
func ListGlobalFieldsHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		fields, err := d.Manager.Store().GlobalCustomFields(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, fields)
	}
}

// POST /api/customfields: общее поле (только dropdown).
func AddGlobalFieldHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var spec manager.CustomFieldSpec
		if !bindJSON(c, &spec) {
			return
		}
		cf, err := d.Manager.AddCustomField(c.Request.Context(), 0, spec)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, cf)
	}
}

type capacitiesRequest struct {
	Capacities []string `json:"capacities"`
}

// PUT /api/definitions/:id/capacities
func SetCapacitiesHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		var req capacitiesRequest
		if !bindJSON(c, &req) {
			return
		}
		def, err := d.Manager.SetCapacities(c.Request.Context(), id, req.Capacities)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, def)
	}
}

// GET /api/definitions/:id/searchoptions
func SearchOptionsHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		t, err := d.Types.TypeFor(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, t.SearchOptions())
	}
}
