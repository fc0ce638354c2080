package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/feedhub/feedhub-api/internal/middleware"
	"github.com/feedhub/feedhub-api/internal/models"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func parseUserFilter(c *gin.Context) models.UserFilter {
	return models.UserFilter{
		Search:    c.Query("search"),
		Page:      parseIntQuery(c, "page", 1),
		PageSize:  clampPageSize(parseIntQuery(c, "page_size", defaultPageSize)),
		SortBy:    c.Query("sort_by"),
		SortOrder: c.Query("sort_order"),
	}
}

func parsePostFilter(c *gin.Context) models.PostFilter {
	return models.PostFilter{
		Search:     c.Query("search"),
		CategoryID: c.Query("category_id"),
		AuthorID:   c.Query("author_id"),
		Page:       parseIntQuery(c, "page", 1),
		PageSize:   clampPageSize(parseIntQuery(c, "page_size", defaultPageSize)),
	}
}

func parseIntQuery(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		return fallback
	}
	return value
}

func clampPageSize(size int) int {
	if size > maxPageSize {
		return maxPageSize
	}
	return size
}

func currentUser(c *gin.Context) *models.User {
	return middleware.UserFromContext(c)
}
