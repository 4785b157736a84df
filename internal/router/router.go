package router

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/psds-microservice/helpy/paths"
	"github.com/psds-microservice/onboarding-service/api"
	"github.com/psds-microservice/onboarding-service/internal/auth"
	"github.com/psds-microservice/onboarding-service/internal/handler"
	"github.com/psds-microservice/onboarding-service/internal/logger"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
)

type Deps struct {
	Tickets    *handler.TicketHandler
	DB         handler.Pinger
	Sessions   *auth.SessionManager
	CookieName string
	Gatherer   prometheus.Gatherer
	Log        *zap.Logger
}

func New(d Deps) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.GinMiddleware(d.Log))

	r.GET(paths.PathHealth, handler.Health)
	r.GET(paths.PathReady, handler.Ready(d.DB))
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}
	r.GET(paths.PathSwagger, func(c *gin.Context) { c.Redirect(http.StatusFound, paths.PathSwagger+"/") })
	r.GET(paths.PathSwagger+"/*any", func(c *gin.Context) {
		if strings.TrimPrefix(c.Param("any"), "/") == "openapi.json" {
			c.Data(http.StatusOK, "application/json", api.OpenAPISpec)
			return
		}
		if strings.TrimPrefix(c.Param("any"), "/") == "" {
			c.Request.URL.Path = paths.PathSwagger + "/index.html"
			c.Request.RequestURI = paths.PathSwagger + "/index.html"
		}
		ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL(paths.PathSwagger+"/openapi.json"))(c)
	})

	v1 := r.Group("/api/v1")
	v1.Use(auth.Middleware(d.Sessions, d.CookieName, d.Log))
	{
		v1.GET("/tickets", d.Tickets.List)
		v1.POST("/tickets", d.Tickets.Create)
		v1.GET("/tickets/:id", d.Tickets.Get)
		v1.POST("/tickets/approve", d.Tickets.Approve)
		v1.POST("/tickets/reject", d.Tickets.Reject)
	}

	return r
}
