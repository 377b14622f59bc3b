package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/memohai/promobot/internal/auth"
)

// requireOperator returns the operator id from the verified token and a
// logger tagged with it.
func requireOperator(c echo.Context, log *slog.Logger) (string, *slog.Logger, error) {
	operatorID, err := auth.UserIDFromContext(c)
	if err != nil {
		return "", nil, echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	return operatorID, log.With(slog.String("operator", operatorID)), nil
}
