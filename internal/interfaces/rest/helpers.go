package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/nexuscrm/approvals/pkg/auth"
	"github.com/nexuscrm/approvals/pkg/constants"
	"github.com/nexuscrm/approvals/pkg/errors"
)

// GetUserFromContext extracts the authenticated user from gin.Context
func GetUserFromContext(c *gin.Context) *auth.UserSession {
	value, exists := c.Get(constants.ContextKeyUser)
	if !exists {
		return nil
	}
	user, ok := value.(auth.UserSession)
	if !ok {
		return nil
	}
	return &user
}

// RespondAppError sends a standardised JSON error response using pkg/errors
func RespondAppError(c *gin.Context, err error) {
	code := errors.GetHTTPStatus(err)
	message := err.Error()

	if code >= 500 {
		log.Error().Err(err).
			Int("status", code).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Msg("request failed")
	}

	body := gin.H{
		constants.ResponseError: message,
		constants.FieldMessage:  message,
		constants.FieldCode:     errors.GetErrorCode(err),
		constants.FieldData:     nil,
	}
	if details := errors.GetDetails(err); details != nil {
		body[constants.FieldDetails] = details
	}
	c.JSON(code, body)
}

// BindJSON binds JSON and returns true if successful. If failed, it sends bad request error.
func BindJSON(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		RespondAppError(c, errors.NewValidationError("body", err.Error()))
		return false
	}
	return true
}

// bindOptionalJSON binds a body that may be absent.
func bindOptionalJSON(c *gin.Context, obj interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	return BindJSON(c, obj)
}

// HandleGetEnvelope executes a read action and returns the result wrapped in a JSON key
// Response: { [key]: result }
func HandleGetEnvelope(c *gin.Context, key string, action func() (interface{}, error)) {
	result, err := action()
	if err != nil {
		RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{key: result})
}

// respondData writes { data: result } with the given status.
func respondData(c *gin.Context, status int, result interface{}) {
	c.JSON(status, gin.H{constants.FieldData: result})
}

// expectedVersion reads the mandatory expected_version query parameter.
func expectedVersion(c *gin.Context) (int, bool) {
	raw := c.Query(constants.ParamExpectedVersion)
	if raw == "" {
		RespondAppError(c, errors.NewValidationError(constants.ParamExpectedVersion, "is required"))
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		RespondAppError(c, errors.NewValidationError(constants.ParamExpectedVersion, "must be a positive integer"))
		return 0, false
	}
	return v, true
}

// historyLimit reads the optional limit query parameter; zero means the default.
func historyLimit(c *gin.Context) (int, bool) {
	raw := c.Query(constants.ParamLimit)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		RespondAppError(c, errors.NewValidationError(constants.ParamLimit, "must be a non-negative integer"))
		return 0, false
	}
	return v, true
}

// boolQuery reads a boolean query parameter, false when absent.
func boolQuery(c *gin.Context, name string) (bool, bool) {
	raw := c.Query(name)
	if raw == "" {
		return false, true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		RespondAppError(c, errors.NewValidationError(name, "must be a boolean"))
		return false, false
	}
	return v, true
}
