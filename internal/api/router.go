package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"assetforge/internal/logging"
)

type RouterOptions struct {
	Auth      *Authenticator // nil: без аутентификации
	RateRPS   float64        // лимит изменений определений на клиента; 0: без лимита
	RateBurst int
}

func NewRouter(d *Deps, opts RouterOptions) *gin.Engine {
	if opts.Auth == nil {
		logging.Warn("authentication disabled, all requests run as the system actor")
	}
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(), Metrics())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api", Authenticate(opts.Auth))
	{
		api.GET("/capacities", ListCapacitiesHandler(d))
		api.GET("/fieldtypes", ListFieldTypesHandler(d))
		api.POST("/fieldtypes/preview", PreviewFieldHandler(d))

		limit := RateLimit(opts.RateRPS, opts.RateBurst)

		defs := api.Group("/definitions", requireConfig(), limit)
		defs.GET("", ListDefinitionsHandler(d))
		defs.POST("", CreateDefinitionHandler(d))
		defs.GET("/:id", GetDefinitionHandler(d))
		defs.PATCH("/:id", UpdateDefinitionHandler(d))
		defs.DELETE("/:id", DeleteDefinitionHandler(d))
		defs.GET("/:id/fields", ListFieldsHandler(d))
		defs.PUT("/:id/fields", UpdateFieldsHandler(d))
		defs.GET("/:id/fields/available", AvailableFieldsHandler(d))
		defs.POST("/:id/layout", LayoutHandler(d))
		defs.POST("/:id/customfields", AddCustomFieldHandler(d))
		defs.PATCH("/:id/customfields/:name", UpdateCustomFieldHandler(d))
		defs.DELETE("/:id/customfields/:name", RemoveCustomFieldHandler(d))
		defs.PUT("/:id/capacities", SetCapacitiesHandler(d))
		defs.GET("/:id/searchoptions", SearchOptionsHandler(d))

		globals := api.Group("/customfields", requireConfig(), limit)
		globals.GET("", ListGlobalFieldsHandler(d))
		globals.POST("", AddGlobalFieldHandler(d))

		dds := api.Group("/dropdowns", requireConfig(), limit)
		dds.GET("", ListDropdownsHandler(d))
		dds.POST("", CreateDropdownHandler(d))
		dds.DELETE("/:id", DeleteDropdownHandler(d))
		dds.POST("/:id/items", AddDropdownItemsHandler(d))

		// служебные маршруты раньше /:id
		assets := api.Group("/assets/:type")
		assets.GET("/count", CountAssetsHandler(d))
		assets.GET("", ListAssetsHandler(d))
		assets.POST("", CreateAssetHandler(d))
		assets.GET("/:id", GetAssetHandler(d))
		assets.PATCH("/:id", UpdateAssetHandler(d))
		assets.DELETE("/:id", DeleteAssetHandler(d))
		assets.POST("/:id/restore", RestoreAssetHandler(d))
		assets.GET("/:id/history", AssetHistoryHandler(d))
		assets.POST("/:id/documents", UploadDocumentHandler(d))
		assets.GET("/:id/documents", ListDocumentsHandler(d))
		assets.GET("/:id/documents/:doc", DownloadDocumentHandler(d))
	}
	return r
}
