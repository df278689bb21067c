package router

import (
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"cad-copilot/backend/pkg/validator"
)

// AddOpenAPIValidation validates request bodies against the API schema.
// OPENAPI_SCHEMA_PATH overrides the embedded schema.
func (r *Router) AddOpenAPIValidation() {
	var (
		v   *validator.OpenAPIValidator
		err error
	)
	schemaPath := os.Getenv("OPENAPI_SCHEMA_PATH")
	if schemaPath != "" {
		v, err = validator.NewOpenAPIValidator(schemaPath)
	} else {
		v, err = validator.NewOpenAPIValidatorFromData(validator.DefaultSchema)
	}
	if err != nil {
		r.Logger.LogError(err, "Failed to initialize OpenAPI validator")
		return
	}

	r.Engine.Use(v.Middleware())
	r.Engine.GET("/api/docs/openapi.yaml", func(c *gin.Context) {
		if schemaPath != "" {
			c.File(schemaPath)
			return
		}
		c.Data(http.StatusOK, "application/yaml", validator.DefaultSchema)
	})
	r.Logger.Info("OpenAPI validation enabled", "schema", schemaPath)
}
