package constants

// HTTP and API constants
const (
	// HTTP Headers
	HeaderAuthorization = "Authorization"
	HeaderXRequestID    = "X-Request-ID"

	// Auth
	BearerPrefix = "Bearer "

	// Response Keys
	ResponseError = "error"
	FieldMessage  = "message"
	FieldData     = "data"
	FieldCode     = "code"
	FieldDetails  = "details"
)

// Context keys
const (
	ContextKeyUser  = "user"
	ContextKeyToken = "token"
)

// Query parameters
const (
	ParamEntityType = "entity_type"
	ParamStatus     = "status"
	ParamFormat     = "format"
	ParamDelegator  = "delegator_id"
	ParamAsOf       = "as_of"
	ParamAssigned   = "assigned"
	ParamActiveOnly = "active_only"
	ParamApprover   = "approver_id"
	ParamLimit      = "limit"
	ParamMode       = "mode"

	ParamExpectedVersion = "expected_version"
)

// Document formats for export/import
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)
