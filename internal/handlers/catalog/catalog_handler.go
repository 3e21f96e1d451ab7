// internal/handlers/catalog/catalog_handler.go
package catalog

import (
	"net/http"
	"strconv"

	"membership-service/internal/pkg/response"
	service "membership-service/internal/service/catalog"

	"github.com/gin-gonic/gin"
)

type CatalogHandler struct {
	catalogService *service.CatalogService
}

func NewCatalogHandler(catalogService *service.CatalogService) *CatalogHandler {
	return &CatalogHandler{
		catalogService: catalogService,
	}
}

func (h *CatalogHandler) ListPlans(c *gin.Context) {
	plans, err := h.catalogService.ListPlans(c.Request.Context())
	if err != nil {
		response.FromError(c, "failed to list plans", err)
		return
	}
	response.Success(c, http.StatusOK, "plans retrieved", plans)
}

func (h *CatalogHandler) GetPlan(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ValidationError(c, "invalid plan ID", err)
		return
	}

	plan, err := h.catalogService.GetPlan(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, "plan not found", err)
		return
	}
	response.Success(c, http.StatusOK, "plan retrieved", plan)
}

// ListTiers returns active tiers ordered by level
func (h *CatalogHandler) ListTiers(c *gin.Context) {
	tiers, err := h.catalogService.ListTiers(c.Request.Context())
	if err != nil {
		response.FromError(c, "failed to list tiers", err)
		return
	}
	response.Success(c, http.StatusOK, "tiers retrieved", tiers)
}

func (h *CatalogHandler) GetTier(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ValidationError(c, "invalid tier ID", err)
		return
	}

	tier, err := h.catalogService.GetTier(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, "tier not found", err)
		return
	}
	response.Success(c, http.StatusOK, "tier retrieved", tier)
}
