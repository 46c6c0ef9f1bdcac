package routes

import (
	"net/http"

	"financerag/models"
	"financerag/services"
	"financerag/utils"

	"github.com/gin-gonic/gin"
)

func SetupCompanyRoutes(router *gin.Engine, svc Services, bodyLimit gin.HandlerFunc) {
	companies := router.Group("/companies")

	companies.POST("", bodyLimit, handleCreateCompany(svc.Registry))
	companies.GET("", handleListCompanies(svc.Registry))
	companies.GET("/stats", handleRegistryStats(svc.Registry))
	companies.GET("/:id", handleGetCompany(svc.Registry))
	companies.GET("/:id/stats", handleCompanyStats(svc.Registry))
	companies.POST("/:id/clear", handleClearKnowledgeBase(svc.Registry))
	companies.DELETE("/:id", handleDeleteCompany(svc.Registry))
	companies.GET("/:id/documents", handleListDocuments(svc.Ingestion))

	router.GET("/documents/stats", handleDocumentStats(svc.Registry))
}

func handleCreateCompany(registry *services.RegistryService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req services.CompanyInput
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request data", gin.H{"error": err.Error()})
			return
		}

		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		company, err := registry.CreateCompany(ctx, req)
		if err != nil {
			utils.RespondWithDomainError(c, err)
			return
		}
		c.JSON(http.StatusCreated, company)
	}
}

func handleListCompanies(registry *services.RegistryService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		companies, err := registry.ListCompanies(ctx)
		if err != nil {
			utils.RespondWithDomainError(c, err)
			return
		}
		if companies == nil {
			companies = []models.Company{}
		}
		c.JSON(http.StatusOK, gin.H{"companies": companies, "total": len(companies)})
	}
}

func handleGetCompany(registry *services.RegistryService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		company, err := registry.GetCompany(ctx, c.Param("id"))
		if err != nil {
			utils.RespondWithDomainError(c, err)
			return
		}
		c.JSON(http.StatusOK, company)
	}
}

func handleCompanyStats(registry *services.RegistryService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		stats, err := registry.Stats(ctx, c.Param("id"))
		if err != nil {
			utils.RespondWithDomainError(c, err)
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}

func handleRegistryStats(registry *services.RegistryService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		stats, err := registry.Overview(ctx)
		if err != nil {
			utils.RespondWithDomainError(c, err)
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}

func handleDocumentStats(registry *services.RegistryService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		stats, err := registry.Overview(ctx)
		if err != nil {
			utils.RespondWithDomainError(c, err)
			return
		}
		var total int64
		for _, n := range stats.DocumentsByStatus {
			total += n
		}
		for _, n := range stats.URLsByStatus {
			total += n
		}
		c.JSON(http.StatusOK, gin.H{
			"total":           total,
			"pdf_by_status":   stats.DocumentsByStatus,
			"url_by_status":   stats.URLsByStatus,
			"indexed_vectors": stats.IndexedVectors,
		})
	}
}

func handleClearKnowledgeBase(registry *services.RegistryService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := utils.WithLongTimeout(c.Request.Context())
		defer cancel()

		id := c.Param("id")
		if err := registry.ClearKnowledgeBase(ctx, id); err != nil {
			utils.RespondWithDomainError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Knowledge base cleared", "company_id": id})
	}
}

func handleDeleteCompany(registry *services.RegistryService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := utils.WithLongTimeout(c.Request.Context())
		defer cancel()

		id := c.Param("id")
		if err := registry.DeleteCompany(ctx, id); err != nil {
			utils.RespondWithDomainError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Company deleted", "company_id": id})
	}
}

func handleListDocuments(ingestion *services.IngestionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		page, limit := pagination(c)
		kind := models.SourceKind(c.Query("kind"))
		switch kind {
		case "", models.SourcePDF, models.SourceURL:
		default:
			utils.RespondWithBadRequest(c, "kind must be pdf or url", nil)
			return
		}

		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		docs, total, err := ingestion.ListDocuments(ctx, models.DocumentFilter{
			CompanyID: c.Param("id"),
			Kind:      kind,
			Status:    c.Query("status"),
			Page:      page,
			Limit:     limit,
		})
		if err != nil {
			utils.RespondWithDomainError(c, err)
			return
		}
		if docs == nil {
			docs = []models.Document{}
		}
		c.JSON(http.StatusOK, pageResponse(docs, total, page, limit))
	}
}
