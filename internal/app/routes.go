package app

import (
	"github.com/gin-gonic/gin"
	"github.com/mailblog/core/internal/middleware"
	"github.com/mailblog/core/internal/modules/auth"
	"github.com/mailblog/core/internal/modules/newsletter"
	"github.com/mailblog/core/internal/modules/subscription"
	"github.com/mailblog/core/internal/pkg/dispatch"
	redisc "github.com/mailblog/core/internal/pkg/redis"
	"github.com/mailblog/core/internal/pkg/response"
)

func (a *App) registerRoutes(rc *redisc.Client, queue *dispatch.Queue) {
	a.router.NoRoute(func(c *gin.Context) { response.NotFound(c) })
	a.router.NoMethod(func(c *gin.Context) { response.MethodNotAllowed(c) })

	root := a.router.Group("")
	root.Use(middleware.OptionalAuth())
	root.Use(middleware.RateLimit(rc.Raw()))

	root.GET("/status", a.status(queue))

	store := subscription.NewGormStore(a.db)
	svc := subscription.NewService(store, queue, a.logger)
	subscription.NewHandler(svc, store).RegisterRoutes(root, middleware.Auth())

	nsvc := newsletter.NewService(store, queue, a.logger)
	newsletter.NewHandler(nsvc).RegisterRoutes(root, middleware.Auth())

	auth.NewHandler(a.cfg.AdminPassword).RegisterRoutes(root)
}

func (a *App) status(queue *dispatch.Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{
			"status": "ok",
			"env":    a.cfg.Env,
			"mail":   a.cfg.Mail.Enable,
		}
		if counts, err := queue.Counts(c.Request.Context()); err == nil {
			body["dispatch"] = counts
		}
		if middleware.IsAuthenticated(c) {
			body["jobs"] = a.sched.List()
		}
		response.OK(c, body)
	}
}
