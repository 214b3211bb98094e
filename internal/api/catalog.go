package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"assetforge/internal/fieldtype"
	"assetforge/internal/manager"
	"assetforge/internal/schema"
)

type capacityView struct {
	Name          string   `json:"name"`
	Label         string   `json:"label"`
	Columns       []string `json:"columns,omitempty"`
	Requires      []string `json:"requires,omitempty"`
	ConflictsWith []string `json:"conflicts_with,omitempty"`
}

// GET /api/capacities
func ListCapacitiesHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		descs := d.Manager.Capacities().ListAvailable()
		out := make([]capacityView, 0, len(descs))
		for _, desc := range descs {
			v := capacityView{Name: desc.Name, Label: desc.Label, Requires: desc.Requires, ConflictsWith: desc.ConflictsWith}
			for _, col := range desc.Columns {
				v.Columns = append(v.Columns, col.Name)
			}
			out = append(out, v)
		}
		c.JSON(http.StatusOK, out)
	}
}

// GET /api/fieldtypes
func ListFieldTypesHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, d.Manager.Types().Names())
	}
}

type previewRequest struct {
	Type    string            `json:"type"`
	Name    string            `json:"name"`
	Label   string            `json:"label"`
	Value   any               `json:"value"`
	Options fieldtype.Options `json:"field_options"`
}

// POST /api/fieldtypes/preview: описание контрола формы для значения.
// Недоступный или запрещённый справочник даёт выключенный контрол, а не ошибку.
func PreviewFieldHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req previewRequest
		if !bindJSON(c, &req) {
			return
		}
		if req.Options == nil {
			req.Options = fieldtype.Options{}
		}
		s, err := d.Manager.Types().Resolve(req.Type)
		if err != nil {
			writeError(c, err)
			return
		}
		if err := s.CheckOptions(req.Options); err != nil {
			writeError(c, err)
			return
		}
		name := req.Name
		if name == "" {
			name = "value"
		}
		v, err := fieldtype.Check(s, name, req.Value, req.Options)
		if err != nil {
			writeError(c, err)
			return
		}
		ctx := c.Request.Context()
		fc := fieldtype.FormContext{
			Field: name,
			Label: req.Label,
			TargetExists: func(itemtype string) bool {
				table, ok := fieldtype.TargetTable(itemtype)
				return ok && schema.HasTable(ctx, d.Manager.DB(), table)
			},
			CanRead: actorOf(c).CanRead,
		}
		c.JSON(http.StatusOK, s.FormInput(v, req.Options, fc))
	}
}

// GET /api/dropdowns
func ListDropdownsHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		dds, err := d.Manager.Store().Dropdowns(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, dds)
	}
}

// POST /api/dropdowns
func CreateDropdownHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var spec manager.DropdownSpec
		if !bindJSON(c, &spec) {
			return
		}
		dd, err := d.Manager.CreateDropdown(c.Request.Context(), spec)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, dd)
	}
}

// DELETE /api/dropdowns/:id
func DeleteDropdownHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		if err := d.Manager.DeleteDropdown(c.Request.Context(), id); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// POST /api/dropdowns/:id/items - существующие коды пропускаются.
func AddDropdownItemsHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		var items []manager.DropdownItem
		if !bindJSON(c, &items) {
			return
		}
		ctx := c.Request.Context()
		dd, err := d.Manager.Store().Dropdown(ctx, id)
		if err != nil {
			writeError(c, err)
			return
		}
		n, err := d.Manager.AddDropdownItems(ctx, dd.SystemName, items)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"inserted": n})
	}
}
