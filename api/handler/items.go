package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/ingester/models"
)

// ItemGetter loads a stored item.
type ItemGetter interface {
	Get(ctx context.Context, id string) (*models.Item, error)
}

// GetItem returns a handler for GET /api/v1/items/:id.
func GetItem(items ItemGetter) gin.HandlerFunc {
	return func(c *gin.Context) {
		item, err := items.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.ItemResponse{Success: true, Item: item})
	}
}
