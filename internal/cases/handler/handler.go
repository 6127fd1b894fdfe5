package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/globaldothealth/linelist/internal/cases"
	"github.com/globaldothealth/linelist/internal/caseschema"
	"github.com/globaldothealth/linelist/internal/errs"
	"github.com/globaldothealth/linelist/pkg/logger"
)

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errs.IsNotFound(err):
		return http.StatusNotFound
	case errs.IsValidation(err):
		return http.StatusUnprocessableEntity
	case errs.IsPrecondition(err):
		return http.StatusBadRequest
	case errs.IsConflict(err):
		return http.StatusConflict
	case errs.IsUnsupportedType(err):
		return http.StatusUnsupportedMediaType
	case errs.IsDependencyFailed(err):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func abortWithError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Errorf("internal error handling %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

// RegisterCaseRoutes wires the case API onto the engine. downloadLimiter
// guards the export endpoints and may be nil.
func RegisterCaseRoutes(r *gin.Engine, ctl *cases.Controller, schema *cases.SchemaService, downloadLimiter gin.HandlerFunc) {
	api := r.Group("/api")

	api.GET("/cases/:id", func(c *gin.Context) {
		found, err := ctl.GetCase(c.Request.Context(), c.Param("id"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, found)
	})

	api.GET("/cases", func(c *gin.Context) {
		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(cases.DefaultPageSize)))
		list, err := ctl.ListCases(c.Request.Context(), page, limit, c.Query("q"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, list)
	})

	api.POST("/cases", func(c *gin.Context) {
		var raw map[string]interface{}
		if err := c.ShouldBindJSON(&raw); err != nil {
			abortWithError(c, errs.UnsupportedTypef("malformed case document: %v", err))
			return
		}
		if c.Query("validate_only") == "true" {
			if err := ctl.ValidateCaseRaw(c.Request.Context(), raw); err != nil {
				abortWithError(c, err)
				return
			}
			c.Status(http.StatusNoContent)
			return
		}
		numCases := 1
		if n := c.Query("num_cases"); n != "" {
			parsed, err := strconv.Atoi(n)
			if err != nil {
				abortWithError(c, errs.Preconditionf("num_cases must be an integer"))
				return
			}
			numCases = parsed
		}
		created, err := ctl.CreateCase(c.Request.Context(), raw, numCases)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, created)
	})

	api.POST("/cases/batchUpsert", func(c *gin.Context) {
		var body map[string]interface{}
		if err := c.ShouldBindJSON(&body); err != nil {
			body = nil
		}
		response, err := ctl.BatchUpsert(c.Request.Context(), body)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, response)
	})

	api.POST("/cases/batchStatusChange", func(c *gin.Context) {
		var req struct {
			Status  string   `json:"status"`
			Note    string   `json:"note"`
			CaseIDs []string `json:"caseIds"`
			Query   string   `json:"query"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			abortWithError(c, errs.UnsupportedTypef("malformed request: %v", err))
			return
		}
		if err := ctl.BatchStatusChange(c.Request.Context(), req.Status, req.Note, req.CaseIDs, req.Query); err != nil {
			abortWithError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	api.PUT("/cases/:id", func(c *gin.Context) {
		var raw map[string]interface{}
		if err := c.ShouldBindJSON(&raw); err != nil {
			abortWithError(c, errs.UnsupportedTypef("malformed case document: %v", err))
			return
		}
		updated, err := ctl.UpdateCase(c.Request.Context(), c.Param("id"), raw)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, updated)
	})

	api.POST("/cases/batchUpdate", func(c *gin.Context) {
		var req struct {
			Cases []map[string]interface{} `json:"cases"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			abortWithError(c, errs.UnsupportedTypef("malformed request: %v", err))
			return
		}
		modified, err := ctl.BatchUpdate(c.Request.Context(), req.Cases)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"numModified": modified})
	})

	api.POST("/cases/batchUpdateQuery", func(c *gin.Context) {
		var req struct {
			Query string                 `json:"query"`
			Case  map[string]interface{} `json:"case"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			abortWithError(c, errs.UnsupportedTypef("malformed request: %v", err))
			return
		}
		modified, err := ctl.BatchUpdateQuery(c.Request.Context(), req.Query, req.Case)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"numModified": modified})
	})

	api.DELETE("/cases/:id", func(c *gin.Context) {
		if err := ctl.DeleteCase(c.Request.Context(), c.Param("id")); err != nil {
			abortWithError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	api.DELETE("/cases", func(c *gin.Context) {
		var req struct {
			Query     *string  `json:"query"`
			CaseIDs   []string `json:"caseIds"`
			Threshold int      `json:"maxCasesThreshold"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			abortWithError(c, errs.UnsupportedTypef("malformed request: %v", err))
			return
		}
		if err := ctl.BatchDelete(c.Request.Context(), req.Query, req.CaseIDs, req.Threshold); err != nil {
			abortWithError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	api.GET("/excludedCaseIds", func(c *gin.Context) {
		ids, err := ctl.ExcludedCaseIDs(c.Request.Context(), c.Query("sourceId"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"cases": ids})
	})

	download := func(c *gin.Context) {
		var req struct {
			Format  string   `json:"format"`
			Query   string   `json:"query"`
			CaseIDs []string `json:"caseIds"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			abortWithError(c, errs.UnsupportedTypef("malformed request: %v", err))
			return
		}
		stream, err := ctl.Download(req.Format, req.Query, req.CaseIDs)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.Header("Content-Type", contentTypeFor(req.Format))
		c.Header("Content-Disposition", `attachment; filename="cases.`+req.Format+`"`)
		c.Status(http.StatusOK)
		if err := stream(c.Request.Context(), c.Writer); err != nil {
			// headers are gone; all we can do is log and cut the stream
			logger.Errorf("download stream aborted: %v", err)
		}
	}
	export := func(c *gin.Context) {
		var req struct {
			Format string `json:"format"`
			Query  string `json:"query"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			abortWithError(c, errs.UnsupportedTypef("malformed request: %v", err))
			return
		}
		key, url, err := ctl.ExportToBucket(c.Request.Context(), req.Format, req.Query)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"key": key, "url": url})
	}
	if downloadLimiter != nil {
		api.POST("/cases/download", downloadLimiter, download)
		api.POST("/exports", downloadLimiter, export)
	} else {
		api.POST("/cases/download", download)
		api.POST("/exports", export)
	}

	api.POST("/schema/fields", func(c *gin.Context) {
		var req struct {
			Key         string      `json:"key"`
			Type        string      `json:"type"`
			Description string      `json:"description"`
			Required    bool        `json:"required"`
			IsList      bool        `json:"isList"`
			Values      []string    `json:"values"`
			Default     interface{} `json:"default"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			abortWithError(c, errs.UnsupportedTypef("malformed request: %v", err))
			return
		}
		field := caseschema.Field{
			Key:         req.Key,
			Kind:        caseschema.Kind(req.Type),
			Description: req.Description,
			Required:    req.Required,
			IsList:      req.IsList,
			Values:      req.Values,
			Default:     req.Default,
		}
		if err := schema.AddField(c.Request.Context(), field); err != nil {
			abortWithError(c, err)
			return
		}
		c.Status(http.StatusCreated)
	})
}

func contentTypeFor(format string) string {
	switch format {
	case cases.FormatCSV:
		return "text/csv"
	case cases.FormatTSV:
		return "text/tab-separated-values"
	default:
		return "application/json"
	}
}
