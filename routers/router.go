package routers

import (
	"TrackToVideo-server/routers/api"

	"github.com/gin-gonic/gin"
)

func InitRouter(h *api.Handler) *gin.Engine {
	r := gin.Default()
	r.Static("/generated", h.OutputDir)
	r.Static("/uploads", h.UploadsDir)

	v1 := r.Group("/v1/api")
	{
		v1.GET("/projects", h.ListProjects)
		v1.POST("/projects", h.CreateProject)
		v1.GET("/projects/:project_id", h.GetProject)
		v1.DELETE("/projects/:project_id", h.DeleteProject)
		v1.POST("/projects/:project_id/generate", h.StartGeneration)
		v1.POST("/projects/:project_id/render", h.StartRender)
		v1.GET("/projects/:project_id/ws", h.ProjectProgressWebSocket)
	}
	return r
}
