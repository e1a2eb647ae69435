package server

import (
	"copycatch/internal/web"

	"github.com/a-h/templ"
	"github.com/gin-gonic/gin"
)

func (s *Server) handleHome(c *gin.Context) {
	templ.Handler(web.Home()).ServeHTTP(c.Writer, c.Request)
}
