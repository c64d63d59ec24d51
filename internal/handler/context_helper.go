package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/teaching-load-planner/internal/middleware"
	"github.com/noah-isme/teaching-load-planner/internal/models"
	appErrors "github.com/noah-isme/teaching-load-planner/pkg/errors"
	"github.com/noah-isme/teaching-load-planner/pkg/response"
)

var requestValidator = validator.New()

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// actorFromContext resolves the acting user, writing 401 when none is attached.
func actorFromContext(c *gin.Context) (models.Actor, bool) {
	claims := claimsFromContext(c)
	if claims == nil || claims.UserID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return models.Actor{}, false
	}
	return models.ActorFromClaims(claims), true
}

// bindJSON decodes and validates the body, writing a 400 on failure.
func bindJSON(c *gin.Context, dest interface{}, message string) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, message))
		return false
	}
	return validateRequest(c, dest, message)
}

func validateRequest(c *gin.Context, dest interface{}, message string) bool {
	if err := requestValidator.Struct(dest); err != nil {
		response.Error(c, appErrors.WithDetails(appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, message), "", validationDetails(err)))
		return false
	}
	return true
}

func validationDetails(err error) []string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return nil
	}
	details := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		details = append(details, fe.Namespace()+" failed "+fe.Tag())
	}
	return details
}
