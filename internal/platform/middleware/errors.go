package middleware

import "github.com/labstack/echo/v4"

// errorBody matches the shape domain handlers use for failures.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func httpError(status int, code, msg string) *echo.HTTPError {
	return echo.NewHTTPError(status, errorBody{Code: code, Message: msg})
}
