package httpresp

const (
	ErrUnauthorized       = "unauthorized"
	ErrMissingBearerToken = "bearer token is required"
	ErrInvalidToken       = "invalid token"
	ErrForbidden          = "forbidden"
	ErrInsufficientRole   = "insufficient permissions"
	ErrInvalidBody        = "invalid request body"
	ErrInvalidAPIKey      = "invalid api key"
	ErrNotFound           = "not found"
	ErrInternal           = "internal error"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

// SuccessResponse is the envelope administrative functions answer with.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func NewErrorResponse(message string) ErrorResponse {
	return ErrorResponse{Error: message}
}

func NewSuccessResponse(message string) SuccessResponse {
	return SuccessResponse{Success: true, Message: message}
}
