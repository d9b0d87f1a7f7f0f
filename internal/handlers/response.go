package handlers

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/premiumcollect/premiumcollect/internal/apperr"
	"github.com/premiumcollect/premiumcollect/internal/models"
	"github.com/premiumcollect/premiumcollect/internal/tenant"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// respondError renders err as the error envelope and attaches it to the
// gin context for the request logger.
func respondError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(apperr.Render(err))
}

func badRequest(message string) error {
	return apperr.BadRequest(apperr.CodeInvalidRequest, message)
}

// requestMeta collects the caller details recorded in audit entries.
func requestMeta(c *gin.Context) models.RequestMeta {
	return models.RequestMeta{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		UserID:    tenant.StaffUserID(c.Request.Context()),
	}
}

// parsePage reads page and limit, falling back to defaults on bad input.
func parsePage(c *gin.Context) models.Page {
	p := models.Page{Page: 1, Limit: defaultPageLimit}
	if v, err := strconv.Atoi(c.Query("page")); err == nil && v > 0 {
		p.Page = v
	}
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 {
		p.Limit = v
	}
	if p.Limit > maxPageLimit {
		p.Limit = maxPageLimit
	}
	return p
}

func paramUUID(c *gin.Context, name, notFoundCode, what string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperr.NotFound(notFoundCode, what+" not found")
	}
	return id, nil
}

func queryDate(c *gin.Context, name string) (*time.Time, error) {
	v := strings.TrimSpace(c.Query(name))
	if v == "" {
		return nil, nil
	}
	d, err := time.Parse(models.DateLayout, v)
	if err != nil {
		return nil, apperr.BadRequest(apperr.CodeInvalidDate, name+" must be YYYY-MM-DD")
	}
	return &d, nil
}

func queryBool(c *gin.Context, name string) *bool {
	v, err := strconv.ParseBool(c.Query(name))
	if err != nil {
		return nil
	}
	return &v
}

func listResponse(data interface{}, p models.Pagination) gin.H {
	return gin.H{"data": data, "pagination": p}
}
