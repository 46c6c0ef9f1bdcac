package routes

import (
	"net/http"

	"financerag/middleware"
	"financerag/models"
	"financerag/services"
	"financerag/utils"

	"github.com/gin-gonic/gin"
)

func SetupSettingsRoutes(router *gin.Engine, settings *services.SettingsService, authMiddleware *middleware.AuthMiddleware, bodyLimit gin.HandlerFunc) {
	router.GET("/settings", handleGetSettings(settings))

	put := []gin.HandlerFunc{bodyLimit}
	if authMiddleware != nil {
		put = append(put, authMiddleware.OptionalAdmin())
	}
	put = append(put, handleUpdateSettings(settings))
	router.PUT("/settings", put...)
}

func handleGetSettings(settings *services.SettingsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		st, err := settings.Current(ctx)
		if err != nil {
			utils.RespondWithDomainError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"settings":          st,
			"max_results_bound": settings.MaxResultsBound(),
		})
	}
}

func handleUpdateSettings(settings *services.SettingsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var patch models.SettingsPatch
		if err := c.ShouldBindJSON(&patch); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request data", gin.H{"error": err.Error()})
			return
		}

		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		change, err := settings.Update(ctx, patch, middleware.IsAdmin(c))
		if err != nil {
			utils.RespondWithDomainError(c, err)
			return
		}
		c.JSON(http.StatusOK, change)
	}
}
