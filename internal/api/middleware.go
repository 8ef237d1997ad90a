package api

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/liamashdown/insiderlens/internal/metrics"
	"github.com/sirupsen/logrus"
)

// Recover turns a handler panic into a 500 reply
func Recover(log *logrus.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			defer func() {
				if r := recover(); r != nil {
					err, ok := r.(error)
					if !ok {
						err = fmt.Errorf("%v", r)
					}
					log.WithError(err).WithFields(logrus.Fields{
						"method": c.Request().Method,
						"path":   c.Path(),
						"stack":  string(debug.Stack()),
					}).Error("Handler panic")
					_ = c.JSON(http.StatusInternalServerError, APIResponse{
						Status:  http.StatusInternalServerError,
						Message: http.StatusText(http.StatusInternalServerError),
					})
				}
			}()
			return next(c)
		}
	}
}

// RequestLogging logs and counts each request
func RequestLogging(log *logrus.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			latency := time.Since(start)
			status := c.Response().Status
			metrics.RecordHTTPRequest(c.Path(), req.Method, status, latency)

			entry := log.WithFields(logrus.Fields{
				"method":  req.Method,
				"uri":     req.RequestURI,
				"remote":  c.RealIP(),
				"status":  status,
				"latency": latency.String(),
			})
			switch {
			case status >= 500:
				entry.Error("Request failed")
			case status >= 400:
				entry.Warn("Request rejected")
			default:
				entry.Debug("Request handled")
			}

			return nil
		}
	}
}
