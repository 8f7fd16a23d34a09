// Project HTTP handlers
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/loomchat/loomchat/pkg/auth"
	"github.com/loomchat/loomchat/pkg/models"
	"github.com/loomchat/loomchat/pkg/service"
)

type ProjectHandler struct {
	projects *service.ProjectService
}

func NewProjectHandler(projects *service.ProjectService) *ProjectHandler {
	return &ProjectHandler{projects: projects}
}

func (h *ProjectHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/projects", h.ListProjects)
	r.POST("/projects", h.CreateProject)
	r.GET("/projects/:token", h.GetProject)
	r.PATCH("/projects/:token", h.UpdateProject)
	r.DELETE("/projects/:token", h.DeleteProject)
}

// GET /api/v1/projects
func (h *ProjectHandler) ListProjects(c *gin.Context) {
	projects, err := h.projects.List(auth.UserID(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": projects})
}

// POST /api/v1/projects
func (h *ProjectHandler) CreateProject(c *gin.Context) {
	var req models.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	project, err := h.projects.Create(auth.UserID(c), &req)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, project)
}

// GET /api/v1/projects/:token
func (h *ProjectHandler) GetProject(c *gin.Context) {
	project, err := h.projects.Get(auth.UserID(c), c.Param("token"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

// PATCH /api/v1/projects/:token
func (h *ProjectHandler) UpdateProject(c *gin.Context) {
	var req models.UpdateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	project, err := h.projects.Update(auth.UserID(c), c.Param("token"), &req)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

// DELETE /api/v1/projects/:token
func (h *ProjectHandler) DeleteProject(c *gin.Context) {
	if err := h.projects.Delete(auth.UserID(c), c.Param("token")); err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}
