package routes

import (
	"errors"
	"io"
	"net/http"

	"financerag/models"
	"financerag/services"
	"financerag/utils"

	"github.com/gin-gonic/gin"
)

type urlRequest struct {
	URL string `json:"url" binding:"required"`
}

func SetupDocumentRoutes(router *gin.Engine, ingestion *services.IngestionService, uploadLimit, bodyLimit gin.HandlerFunc) {
	router.POST("/companies/:id/documents", uploadLimit, handleUploadPDF(ingestion))
	router.POST("/companies/:id/urls", bodyLimit, handleSubmitURL(ingestion))

	documents := router.Group("/documents")
	documents.GET("/:id", handleGetDocument(ingestion))
	documents.GET("/:id/tables", handleListTables(ingestion))
	documents.POST("/:id/resubmit", handleResubmit(ingestion))
	documents.DELETE("/:id", handleDeleteDocument(ingestion))
}

func handleUploadPDF(ingestion *services.IngestionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header, err := c.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				utils.RespondWithError(c, http.StatusRequestEntityTooLarge, "file_too_large", "File size exceeds maximum limit", nil)
				return
			}
			utils.RespondWithError(c, http.StatusBadRequest, "no_file", "No PDF file provided", nil)
			return
		}

		file, err := header.Open()
		if err != nil {
			utils.RespondWithError(c, http.StatusBadRequest, "invalid_file", "Cannot read uploaded file", nil)
			return
		}
		defer file.Close()

		content, err := io.ReadAll(file)
		if err != nil {
			utils.RespondWithError(c, http.StatusBadRequest, "invalid_file", "Cannot read uploaded file", nil)
			return
		}

		ctx, cancel := utils.WithLongTimeout(c.Request.Context())
		defer cancel()

		doc, err := ingestion.SubmitPDF(ctx, c.Param("id"), header.Filename, content)
		if err != nil {
			utils.RespondWithDomainError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, acceptedResponse(doc))
	}
}

func handleSubmitURL(ingestion *services.IngestionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req urlRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request data", gin.H{"error": err.Error()})
			return
		}

		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		doc, err := ingestion.SubmitURL(ctx, c.Param("id"), req.URL)
		if err != nil {
			utils.RespondWithDomainError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, acceptedResponse(doc))
	}
}

func acceptedResponse(doc *models.Document) gin.H {
	return gin.H{
		"document_id": doc.ID,
		"company_id":  doc.CompanyID,
		"status":      doc.Status,
		"version":     doc.Version,
		"status_url":  "/documents/" + doc.ID,
	}
}

func handleGetDocument(ingestion *services.IngestionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		doc, err := ingestion.GetDocument(ctx, c.Param("id"))
		if err != nil {
			utils.RespondWithDomainError(c, err)
			return
		}
		c.JSON(http.StatusOK, doc)
	}
}

func handleListTables(ingestion *services.IngestionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		tables, err := ingestion.ListTables(ctx, c.Param("id"))
		if err != nil {
			utils.RespondWithDomainError(c, err)
			return
		}
		if tables == nil {
			tables = []models.Table{}
		}
		c.JSON(http.StatusOK, gin.H{"tables": tables, "total": len(tables)})
	}
}

func handleResubmit(ingestion *services.IngestionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := utils.WithLongTimeout(c.Request.Context())
		defer cancel()

		doc, err := ingestion.Resubmit(ctx, c.Param("id"))
		if err != nil {
			utils.RespondWithDomainError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, acceptedResponse(doc))
	}
}

func handleDeleteDocument(ingestion *services.IngestionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := utils.WithLongTimeout(c.Request.Context())
		defer cancel()

		id := c.Param("id")
		if err := ingestion.DeleteDocument(ctx, id); err != nil {
			utils.RespondWithDomainError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Document deleted", "document_id": id})
	}
}
