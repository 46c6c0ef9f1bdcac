package routes

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"financerag/models"
	"financerag/services"
	"financerag/utils"

	"github.com/gin-gonic/gin"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func SetupHistoryRoutes(router *gin.Engine, history *services.HistoryService) {
	group := router.Group("/history")
	group.GET("", handleSearchHistory(history))
	group.GET("/stats", handleHistoryStats(history))
	group.GET("/export", handleExportHistory(history))
	group.GET("/:id", handleGetHistory(history))
	group.DELETE("/:id", handleDeleteHistory(history))
}

func historyFilter(c *gin.Context) models.HistoryFilter {
	return models.HistoryFilter{
		CompanyID: c.Query("company"),
		Category:  c.Query("category"),
		Search:    c.Query("search"),
	}
}

func handleSearchHistory(history *services.HistoryService) gin.HandlerFunc {
	return func(c *gin.Context) {
		f := historyFilter(c)
		f.Page, f.Limit = pagination(c)

		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		items, total, err := history.Search(ctx, f)
		if err != nil {
			utils.RespondWithDomainError(c, err)
			return
		}
		if items == nil {
			items = []models.HistoryItem{}
		}
		c.JSON(http.StatusOK, pageResponse(items, total, f.Page, f.Limit))
	}
}

func handleHistoryStats(history *services.HistoryService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		stats, err := history.Stats(ctx, c.Query("company"))
		if err != nil {
			utils.RespondWithDomainError(c, err)
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}

func handleExportHistory(history *services.HistoryService) gin.HandlerFunc {
	return func(c *gin.Context) {
		format := c.DefaultQuery("format", services.ExportExcel)

		ctx, cancel := utils.WithLongTimeout(c.Request.Context())
		defer cancel()

		// buffered so a failure can still be reported as JSON
		var buf bytes.Buffer
		if _, err := history.ExportHistory(ctx, historyFilter(c), format, &buf); err != nil {
			utils.RespondWithDomainError(c, err)
			return
		}

		contentType := xlsxContentType
		if format == services.ExportJSON {
			contentType = "application/json"
		}
		filename := fmt.Sprintf("qa_history_%s.%s", time.Now().UTC().Format("20060102_150405"), format)
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		c.Data(http.StatusOK, contentType, buf.Bytes())
	}
}

func handleGetHistory(history *services.HistoryService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		item, err := history.Get(ctx, c.Param("id"))
		if err != nil {
			utils.RespondWithDomainError(c, err)
			return
		}
		c.JSON(http.StatusOK, item)
	}
}

func handleDeleteHistory(history *services.HistoryService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		id := c.Param("id")
		if err := history.Delete(ctx, id); err != nil {
			utils.RespondWithDomainError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "History item deleted", "id": id})
	}
}
