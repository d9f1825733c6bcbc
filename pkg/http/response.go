package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

func DataResponse(c echo.Context, status int, data interface{}) error {
	return c.JSON(http.StatusOK, APIResponse{
		Status:  status,
		Message: http.StatusText(status),
		Data:    data,
	})
}

func SuccessResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusOK, data)
}

func BadRequestResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusBadRequest, data)
}

// AppErrorResponse renders err through its AppError, if any. Anything else is
// reported as a 500 without leaking the underlying message.
func AppErrorResponse(c echo.Context, err error) error {
	var ae *AppError
	if errors.As(err, &ae) {
		return DataResponse(c, ae.Status, []*AppError{ae})
	}
	return DataResponse(c, http.StatusInternalServerError, "internal error")
}
