package handlers

// ErrorResponse is the API error body produced by echo.NewHTTPError.
type ErrorResponse struct {
	Message string `json:"message"`
}
