package api

import (
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"assetforge/internal/fieldtype"
	"assetforge/internal/materialize"
	"assetforge/internal/rights"
)

// assetType: рабочий тип по имени из пути; заодно проверяет право актора.
func (d *Deps) assetType(c *gin.Context, right int) (*materialize.AssetType, bool) {
	t, err := d.Types.TypeByName(c.Request.Context(), c.Param("type"))
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	if err := actorOf(c).Check(t.Profiles(), right, t.SystemName); err != nil {
		writeError(c, err)
		return nil, false
	}
	return t, true
}

func truthy(s string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	return err == nil && b
}

func view(c *gin.Context, e *materialize.Entity) map[string]any {
	out := e.Values()
	if truthy(c.Query("formatted")) {
		out["_formatted"] = e.Formatted()
	}
	return out
}

// GET /api/assets/:type
func ListAssetsHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		t, ok := d.assetType(c, rights.Read)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		p := materialize.ParseListParams(c.Request.URL.Query())
		total, err := d.Assets.Count(ctx, t, p)
		if err != nil {
			writeError(c, err)
			return
		}
		items, err := d.Assets.List(ctx, t, p)
		if err != nil {
			writeError(c, err)
			return
		}
		out := make([]map[string]any, 0, len(items))
		for _, e := range items {
			out = append(out, view(c, e))
		}
		c.Header("X-Total-Count", strconv.FormatInt(total, 10))
		c.JSON(http.StatusOK, out)
	}
}

// GET /api/assets/:type/count
func CountAssetsHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		t, ok := d.assetType(c, rights.Read)
		if !ok {
			return
		}
		total, err := d.Assets.Count(c.Request.Context(), t, materialize.ParseListParams(c.Request.URL.Query()))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"total": total})
	}
}

// POST /api/assets/:type
func CreateAssetHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		t, ok := d.assetType(c, rights.Create)
		if !ok {
			return
		}
		var body map[string]any
		if !bindJSON(c, &body) {
			return
		}
		e, err := t.NewEntity()
		if err != nil {
			writeError(c, err)
			return
		}
		// сущность задаётся при создании и дальше не меняется
		if v, ok := body["entities_id"]; ok {
			e.EntitiesID = fieldtype.AsString(v)
			delete(body, "entities_id")
		}
		if err := e.Apply(body); err != nil {
			writeError(c, err)
			return
		}
		if err := d.Assets.Create(c.Request.Context(), e); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, view(c, e))
	}
}

// GET /api/assets/:type/:id
func GetAssetHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		t, ok := d.assetType(c, rights.Read)
		if !ok {
			return
		}
		e, err := d.Assets.Get(c.Request.Context(), t, c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, view(c, e))
	}
}

// PATCH /api/assets/:type/:id
func UpdateAssetHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		t, ok := d.assetType(c, rights.Update)
		if !ok {
			return
		}
		var body map[string]any
		if !bindJSON(c, &body) {
			return
		}
		ctx := c.Request.Context()
		e, err := d.Assets.Get(ctx, t, c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		if err := e.Apply(body); err != nil {
			writeError(c, err)
			return
		}
		if err := d.Assets.Update(ctx, e, actorOf(c).ID); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, view(c, e))
	}
}

// DELETE /api/assets/:type/:id - в корзину; ?purge=1 удаляет физически.
func DeleteAssetHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		purge := truthy(c.Query("purge"))
		right := rights.Delete
		if purge {
			right = rights.Purge
		}
		t, ok := d.assetType(c, right)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		var err error
		if purge {
			err = d.Assets.Purge(ctx, t, c.Param("id"))
		} else {
			err = d.Assets.Delete(ctx, t, c.Param("id"))
		}
		if err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// POST /api/assets/:type/:id/restore
func RestoreAssetHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		t, ok := d.assetType(c, rights.Delete)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		if err := d.Assets.Restore(ctx, t, c.Param("id")); err != nil {
			writeError(c, err)
			return
		}
		e, err := d.Assets.Get(ctx, t, c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, view(c, e))
	}
}

// GET /api/assets/:type/:id/history
func AssetHistoryHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		t, ok := d.assetType(c, rights.Read)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		if _, err := d.Assets.Get(ctx, t, c.Param("id")); err != nil {
			writeError(c, err)
			return
		}
		entries, err := d.Assets.History(ctx, t, c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, entries)
	}
}

func safeName(h *multipart.FileHeader) string {
	name := strings.TrimSpace(filepath.Base(h.Filename))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "file"
	}
	return name
}

// POST /api/assets/:type/:id/documents (multipart, поле "file")
func UploadDocumentHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		t, ok := d.assetType(c, rights.Update)
		if !ok {
			return
		}
		file, hdr, err := c.Request.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "multipart file not found (field name 'file')"})
			return
		}
		defer file.Close()

		mime := hdr.Header.Get("Content-Type")
		if mime == "" {
			mime = "application/octet-stream"
		}
		doc, err := d.Assets.AttachDocument(c.Request.Context(), t, c.Param("id"), safeName(hdr), mime, file)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, doc)
	}
}

// GET /api/assets/:type/:id/documents
func ListDocumentsHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		t, ok := d.assetType(c, rights.Read)
		if !ok {
			return
		}
		docs, err := d.Assets.Documents(c.Request.Context(), t, c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, docs)
	}
}

// GET /api/assets/:type/:id/documents/:doc
func DownloadDocumentHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		t, ok := d.assetType(c, rights.Read)
		if !ok {
			return
		}
		doc, rc, err := d.Assets.OpenDocument(c.Request.Context(), t, c.Param("id"), c.Param("doc"))
		if err != nil {
			writeError(c, err)
			return
		}
		defer rc.Close()
		c.DataFromReader(http.StatusOK, doc.Size, doc.Mime, rc, map[string]string{
			"Content-Disposition": fmt.Sprintf("attachment; filename=%q", doc.Filename),
		})
	}
}
