// Package router wires the HTTP routes of the reservation service.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/dinebook/reservation/internal/config"
	"github.com/dinebook/reservation/internal/handler"
	"github.com/dinebook/reservation/internal/middleware"
)

// Register mounts every route on the Echo instance. Static segments
// (me, availability, confirmed, waitlist) are registered alongside the
// :id routes; Echo matches static paths first.
func Register(e *echo.Echo, cfg config.Config, customer *handler.CustomerHandler, staff *handler.StaffHandler, rdb *redis.Client) {
	e.GET("/healthz", handler.Health)

	auth := middleware.JWTAuth(cfg.JWTSecret)
	customerOnly := middleware.RequireRole("CUSTOMER")
	staffOrAdmin := middleware.RequireRole("STAFF", "ADMIN")
	limiter := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)
	cache := middleware.NewRedisCache(config.LoadCacheConfig(), rdb)

	g := e.Group("/v1/reservations", auth, limiter)

	// Customer-facing lifecycle.
	g.POST("", customer.Create, customerOnly)
	g.GET("/me", customer.ListMine, customerOnly)
	g.PATCH("/:id", customer.Update, customerOnly)
	g.PATCH("/:id/cancel", customer.Cancel, customerOnly)
	g.POST("/waitlist", customer.JoinWaitlist, customerOnly)
	g.PATCH("/:id/waitlist/leave", customer.LeaveWaitlist, customerOnly)

	// Availability snapshot; any authenticated caller may query it.
	g.GET("/availability", customer.Availability, cache)

	// Staff/admin transitions and listings.
	g.GET("", staff.List, staffOrAdmin)
	g.GET("/confirmed", staff.Confirmed, staffOrAdmin)
	g.PATCH("/:id/confirm", staff.Confirm, staffOrAdmin)
	g.PATCH("/:id/confirm-with-table", staff.ConfirmWithTable, staffOrAdmin)
	g.PATCH("/:id/reject", staff.Reject, staffOrAdmin)
	g.PATCH("/:id/checkout", staff.Checkout, staffOrAdmin)
}
