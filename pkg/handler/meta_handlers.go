// Catalog and tool-server listing handlers
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/loomchat/loomchat/pkg/config"
	"github.com/loomchat/loomchat/pkg/models"
)

// ModelLister is the registry surface the handler needs.
type ModelLister interface {
	List() []models.ModelEntry
}

// ServerLister is the MCP gateway surface the handler needs.
type ServerLister interface {
	Servers() map[string]config.MCPServerConfig
}

type MetaHandler struct {
	models  ModelLister
	servers ServerLister
}

func NewMetaHandler(models ModelLister, servers ServerLister) *MetaHandler {
	return &MetaHandler{models: models, servers: servers}
}

func (h *MetaHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/models", h.ListModels)
	r.GET("/mcp/servers", h.ListMCPServers)
}

// ListModels returns the enabled model catalog in a fixed order.
// GET /api/v1/models
func (h *MetaHandler) ListModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": h.models.List()})
}

// ListMCPServers returns the configured tool servers. Secrets never appear:
// the config type excludes env values from JSON.
// GET /api/v1/mcp/servers
func (h *MetaHandler) ListMCPServers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"servers": h.servers.Servers()})
}

// Healthz is the unauthenticated liveness probe.
// GET /healthz
func Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
