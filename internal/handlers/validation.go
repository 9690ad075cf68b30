package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"

	appErrors "github.com/crowdlinkhq/crowdlink/pkg/errors"
	"github.com/crowdlinkhq/crowdlink/pkg/response"
	"github.com/crowdlinkhq/crowdlink/pkg/validator"
)

// bindAndValidate decodes the JSON body into T and runs struct validation.
// On failure it writes the 400 response and returns false.
func bindAndValidate[T any](c *gin.Context) (*T, bool) {
	var payload T
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.NewBadRequest("invalid request body"))
		return nil, false
	}

	if err := validator.ValidateStruct(payload); err != nil {
		response.Error(c, appErrors.NewBadRequest(formatValidationError(err)))
		return nil, false
	}

	return &payload, true
}

func formatValidationError(err error) string {
	var failures validator.ValidationErrors
	if errors.As(err, &failures) && len(failures) > 0 {
		return failures.Error()
	}
	return "validation failed"
}
