package handlers

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

func pageParams(c *gin.Context) (limit, offset int) {
	limit = defaultPageSize
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		if n, errParse := strconv.Atoi(raw); errParse == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if raw := strings.TrimSpace(c.Query("offset")); raw != "" {
		if n, errParse := strconv.Atoi(raw); errParse == nil && n > 0 {
			offset = n
		}
	}
	return limit, offset
}

func parseID(c *gin.Context) (uint64, bool) {
	id, errParse := strconv.ParseUint(c.Param("id"), 10, 64)
	if errParse != nil || id == 0 {
		return 0, false
	}
	return id, true
}
