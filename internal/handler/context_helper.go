package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/immigration-dms-api/internal/middleware"
	"github.com/noah-isme/immigration-dms-api/internal/models"
	appErrors "github.com/noah-isme/immigration-dms-api/pkg/errors"
	"github.com/noah-isme/immigration-dms-api/pkg/response"
)

// actorFromContext writes an unauthorized response when no caller is attached.
func actorFromContext(c *gin.Context) (models.Actor, bool) {
	actor, ok := middleware.ActorFrom(c)
	if !ok || actor.ID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return models.Actor{}, false
	}
	return actor, true
}

func queryBool(c *gin.Context, key string) bool {
	value, err := strconv.ParseBool(c.Query(key))
	return err == nil && value
}
