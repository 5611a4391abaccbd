package api

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"yasmin/internal/apperr"
	"yasmin/internal/provider"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})
	})
	return validate
}

// validateRequest checks struct tags and wraps failures as apperr.ErrValidation.
func validateRequest(payload any) error {
	err := getValidator().Struct(payload)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %s", apperr.ErrValidation, err.Error())
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("field '%s' failed on '%s'", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", apperr.ErrValidation, strings.Join(msgs, "; "))
}

// bindJSON decodes and validates the request body.
func bindJSON(c *gin.Context, dst any) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		return fmt.Errorf("%w: invalid request body", apperr.ErrValidation)
	}
	return validateRequest(dst)
}

// respondError maps service errors to status codes. Internal details are logged, not returned.
func (h *Handler) respondError(c *gin.Context, err error) {
	var status int
	msg := err.Error()
	switch {
	case errors.Is(err, apperr.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		status = http.StatusNotFound
		msg = "resource not found"
	case errors.Is(err, apperr.ErrConflict):
		status = http.StatusConflict
	default:
		status = http.StatusInternalServerError
		msg = "internal server error"
	}
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	} else {
		h.log.Debug("request rejected", zap.String("path", c.FullPath()), zap.Int("status", status), zap.Error(err))
	}
	c.JSON(status, gin.H{"success": false, "error": msg})
}

// respondProviderError maps a failed pass-through call to a vendor.
func (h *Handler) respondProviderError(c *gin.Context, err error) {
	var status int
	msg := "upstream service failed"
	switch provider.KindOf(err) {
	case provider.KindUnconfigured:
		status = http.StatusServiceUnavailable
		msg = "service not configured"
	case provider.KindTimeout:
		status = http.StatusGatewayTimeout
		msg = "upstream service timed out"
	case provider.KindSafetyBlocked:
		// Content filter hits are shown to the user, not treated as failures.
		c.JSON(http.StatusOK, gin.H{"success": false, "error": safetyMessage})
		return
	default:
		status = http.StatusBadGateway
	}
	h.log.Warn("vendor call failed", zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(status, gin.H{"success": false, "error": msg})
}
