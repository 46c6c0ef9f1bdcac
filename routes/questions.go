package routes

import (
	"net/http"

	"financerag/services"
	"financerag/utils"

	"github.com/gin-gonic/gin"
)

func SetupQuestionRoutes(router *gin.Engine, svc Services, bodyLimit gin.HandlerFunc) {
	router.POST("/companies/:id/questions", bodyLimit, handleAsk(svc.Questions))
	router.POST("/questions/retry/:retryID", handleRetry(svc.Questions))
}

func handleAsk(questions *services.QuestionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req services.AskRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request data", gin.H{"error": err.Error()})
			return
		}

		ctx, cancel := utils.WithLongTimeout(c.Request.Context())
		defer cancel()

		answer, err := questions.Ask(ctx, c.Param("id"), req)
		if err != nil {
			utils.RespondWithDomainError(c, err)
			return
		}
		c.JSON(http.StatusOK, answer)
	}
}

func handleRetry(questions *services.QuestionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := utils.WithLongTimeout(c.Request.Context())
		defer cancel()

		answer, err := questions.Retry(ctx, c.Param("retryID"))
		if err != nil {
			utils.RespondWithDomainError(c, err)
			return
		}
		c.JSON(http.StatusOK, answer)
	}
}
