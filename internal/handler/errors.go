package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flicky/storefront-api/internal/auth"
	"github.com/flicky/storefront-api/internal/dto"
	"github.com/flicky/storefront-api/internal/service"
)

type errorMapping struct {
	target  error
	status  int
	code    string
	message string
}

var errorMappings = []errorMapping{
	{service.ErrEmptyCart, http.StatusBadRequest, "empty_cart", "cart is empty"},
	{service.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials", "invalid email or password"},
	{auth.ErrUnauthenticated, http.StatusUnauthorized, "unauthorized", "unauthorized"},
	{service.ErrOrderAccessDenied, http.StatusForbidden, "forbidden", "access denied"},
	{auth.ErrForbidden, http.StatusForbidden, "forbidden", "forbidden"},
	{service.ErrProductNotFound, http.StatusNotFound, "product_not_found", "product not found"},
	{service.ErrCartItemNotFound, http.StatusNotFound, "cart_item_not_found", "cart item not found"},
	{service.ErrOrderNotFound, http.StatusNotFound, "order_not_found", "order not found"},
	{service.ErrUserNotFound, http.StatusNotFound, "user_not_found", "user not found"},
	{service.ErrOrderNotCancellable, http.StatusConflict, "order_not_cancellable", "order not found or not cancellable"},
	{service.ErrTransactionConflict, http.StatusConflict, "conflict", "concurrent update, please retry"},
	{service.ErrUserAlreadyExists, http.StatusConflict, "user_exists", "user already exists"},
	{service.ErrProductInUse, http.StatusConflict, "product_in_use", "product is referenced by orders"},
}

// writeError maps a service error to its HTTP status. Unknown errors are
// logged and reported as 500 without detail.
func writeError(c *gin.Context, err error) {
	var stockErr *service.InsufficientStockError
	if errors.As(err, &stockErr) {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:     "insufficient stock",
			Code:      "insufficient_stock",
			ProductID: &stockErr.ProductID,
			Available: &stockErr.Available,
		})
		return
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			c.JSON(m.status, dto.ErrorResponse{Error: m.message, Code: m.code})
			return
		}
	}

	slog.ErrorContext(c.Request.Context(), "request failed",
		"method", c.Request.Method, "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "internal server error"})
}

func writeBindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error(), Code: "validation"})
}

func writeInvalidID(c *gin.Context, what string) {
	c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid " + what + " ID", Code: "validation"})
}
