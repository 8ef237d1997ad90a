package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/liamashdown/insiderlens/internal/feedback"
	"github.com/liamashdown/insiderlens/internal/investigation"
	"github.com/liamashdown/insiderlens/internal/patterns"
	"github.com/liamashdown/insiderlens/internal/storage"
)

// APIResponse is the envelope of every API reply
type APIResponse struct {
	Status  int         `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ListDataResponse is a page of rows
type ListDataResponse struct {
	Rows  interface{} `json:"rows"`
	Total int         `json:"total"`
}

// DataResponse writes an enveloped reply with the given status
func DataResponse(c echo.Context, statusCode int, data interface{}) error {
	return c.JSON(statusCode, APIResponse{
		Status:  statusCode,
		Message: http.StatusText(statusCode),
		Data:    data,
	})
}

// SuccessResponse writes a 200 reply
func SuccessResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusOK, data)
}

// CreatedResponse writes a 201 reply
func CreatedResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusCreated, data)
}

// ListResponse writes a 200 reply wrapping rows
func ListResponse(c echo.Context, rows interface{}, total int) error {
	return SuccessResponse(c, &ListDataResponse{Rows: rows, Total: total})
}

// BadRequestResponse writes a 400 reply
func BadRequestResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusBadRequest, data)
}

// ErrorStatus maps a service error to its HTTP status
func ErrorStatus(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, investigation.ErrInvalidTransition),
		errors.Is(err, storage.ErrDuplicateTrade):
		return http.StatusConflict
	case errors.Is(err, investigation.ErrValidation),
		errors.Is(err, patterns.ErrInvalidPattern),
		errors.Is(err, feedback.ErrInvalidOptions):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// AppErrorResponse writes the mapped status for err. Internal errors don't leak their message.
func AppErrorResponse(c echo.Context, err error) error {
	status := ErrorStatus(err)
	if status == http.StatusInternalServerError {
		return DataResponse(c, status, "Something went wrong")
	}
	return DataResponse(c, status, []ValidationError{{
		Code:    "ERR_" + http.StatusText(status),
		Message: err.Error(),
	}})
}
