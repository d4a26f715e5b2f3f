package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/flicky/storefront-api/internal/auth"
	"github.com/flicky/storefront-api/internal/middleware"
	"github.com/flicky/storefront-api/internal/model"
)

type Handlers struct {
	Auth    *AuthHandler
	Product *ProductHandler
	Cart    *CartHandler
	Order   *OrderHandler
	Health  *HealthHandler
}

// NewRouter registers every route. authLimit guards register and login and
// may be nil.
func NewRouter(h Handlers, gate *auth.Gate, authLimit gin.HandlerFunc, mw ...gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	router.Use(mw...)

	router.GET("/healthz", h.Health.Healthz)
	router.GET("/readyz", h.Health.Readyz)

	authenticated := middleware.Authenticate(gate)
	adminOnly := middleware.RequireRole(gate, model.RoleAdmin)
	customerOnly := middleware.RequireRole(gate, model.RoleCustomer)

	v1 := router.Group("/api/v1")
	{
		authGroup := v1.Group("/auth")
		limited := authGroup.Group("")
		if authLimit != nil {
			limited.Use(authLimit)
		}
		limited.POST("/register", h.Auth.Register)
		limited.POST("/login", h.Auth.Login)
		authGroup.POST("/logout", authenticated, h.Auth.Logout)
		authGroup.GET("/me", authenticated, h.Auth.Me)

		products := v1.Group("/products")
		products.GET("", h.Product.List)
		products.GET("/:id", h.Product.GetByID)

		adminProducts := products.Group("", authenticated, adminOnly)
		adminProducts.POST("", h.Product.Create)
		adminProducts.PUT("/:id", h.Product.Update)
		adminProducts.DELETE("/:id", h.Product.Delete)

		admin := v1.Group("/admin", authenticated, adminOnly)
		admin.GET("/products", h.Product.List)

		cart := v1.Group("/cart", authenticated, customerOnly)
		cart.GET("", h.Cart.GetCart)
		cart.DELETE("", h.Cart.Clear)
		cart.POST("/items", h.Cart.AddItem)
		cart.PUT("/items/:productId", h.Cart.UpdateItem)
		cart.DELETE("/items/:productId", h.Cart.RemoveItem)

		orders := v1.Group("/orders", authenticated, customerOnly)
		orders.POST("", h.Order.CreateOrder)
		orders.GET("", h.Order.ListOrders)
		orders.GET("/:id", h.Order.GetOrder)
		orders.POST("/:id/cancel", h.Order.CancelOrder)
	}

	return router
}
