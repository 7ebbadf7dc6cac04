package errors

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/gin-gonic/gin"
)

// ErrorCategory defines the type of error for proper handling
type ErrorCategory string

const (
	CategoryAuth          ErrorCategory = "auth"
	CategoryValidation    ErrorCategory = "validation"
	CategoryNetwork       ErrorCategory = "network"
	CategoryClone         ErrorCategory = "clone"
	CategoryTool          ErrorCategory = "tool"
	CategoryTimeout       ErrorCategory = "timeout"
	CategoryData          ErrorCategory = "data"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryNotFound      ErrorCategory = "not_found"
	CategoryInternal      ErrorCategory = "internal"
)

// AppError wraps an errbuilder error with the category used for propagation decisions
type AppError struct {
	*errbuilder.ErrBuilder
	Category   ErrorCategory `json:"category"`
	HTTPStatus int           `json:"http_status"`
	Timestamp  time.Time     `json:"timestamp"`
	StackTrace string        `json:"stack_trace,omitempty"`

	details map[string]string
}

// Error implements the error interface
func (e *AppError) Error() string {
	if cause := e.ErrBuilder.Unwrap(); cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Category, e.ErrBuilder.Msg, cause)
	}
	return fmt.Sprintf("[%s] %s", e.Category, e.ErrBuilder.Msg)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.ErrBuilder.Unwrap()
}

// Detail returns a single detail value recorded on the error, if any
func (e *AppError) Detail(key string) (string, bool) {
	v, ok := e.details[key]
	return v, ok
}

// NewAppError creates an AppError from errbuilder with additional context
func NewAppError(builder *errbuilder.ErrBuilder, category ErrorCategory, httpStatus int) *AppError {
	return &AppError{
		ErrBuilder: builder,
		Category:   category,
		HTTPStatus: httpStatus,
		Timestamp:  time.Now(),
	}
}

func newError(builder *errbuilder.ErrBuilder, category ErrorCategory, httpStatus int, message string, cause error, details map[string]string) *AppError {
	builder = builder.WithMsg(message)

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	if len(details) > 0 {
		errorMap := errbuilder.ErrorMap{}
		for key, value := range details {
			errorMap.Set(key, errors.New(value))
		}
		builder = builder.WithDetails(errbuilder.NewErrDetails(errorMap))
	}

	appErr := NewAppError(builder, category, httpStatus)
	appErr.details = details
	return appErr
}

// NewAuthError reports missing credentials or a failed credential exchange. Never retried.
func NewAuthError(message string, cause error) *AppError {
	return newError(errbuilder.New().WithCode(errbuilder.CodeFailedPrecondition),
		CategoryAuth, http.StatusUnauthorized, message, cause, nil)
}

// NewValidationError reports malformed input, raised before any network activity
func NewValidationError(message string, details ...string) *AppError {
	var d map[string]string
	if len(details) > 0 {
		d = map[string]string{"validation_details": details[0]}
	}
	return newError(errbuilder.New().WithCode(errbuilder.CodeInvalidArgument),
		CategoryValidation, http.StatusBadRequest, message, nil, d)
}

// NewNetworkError reports a non-2xx answer from a remote API.
// statusCode is 0 when the request never produced a response.
func NewNetworkError(message string, statusCode int, url, body string, cause error) *AppError {
	details := map[string]string{"url": url}
	if statusCode != 0 {
		details["status_code"] = strconv.Itoa(statusCode)
	}
	if body != "" {
		details["body"] = body
	}

	return newError(errbuilder.New().WithCode(errbuilder.CodeUnavailable),
		CategoryNetwork, http.StatusBadGateway, message, cause, details)
}

// NewCloneError reports a failed repository clone with the tail of the tool output
func NewCloneError(message, stderrTail string, cause error) *AppError {
	return newError(errbuilder.New().WithCode(errbuilder.CodeUnavailable),
		CategoryClone, http.StatusBadGateway, message, cause, map[string]string{"stderr": stderrTail})
}

// NewToolError reports a failed external tool invocation
func NewToolError(tool, stderrTail string, cause error) *AppError {
	return newError(errbuilder.New().WithCode(errbuilder.CodeInternal),
		CategoryTool, http.StatusInternalServerError, fmt.Sprintf("%s failed", tool), cause,
		map[string]string{"tool": tool, "stderr": stderrTail})
}

// NewTimeoutError reports an operation killed by its wall-clock limit
func NewTimeoutError(message string, timeout time.Duration, cause error) *AppError {
	return newError(errbuilder.New().WithCode(errbuilder.CodeDeadlineExceeded),
		CategoryTimeout, http.StatusGatewayTimeout, message, cause,
		map[string]string{"timeout_duration": timeout.String()})
}

// NewDataError reports output that could not be parsed
func NewDataError(message string, cause error) *AppError {
	return newError(errbuilder.New().WithCode(errbuilder.CodeInternal),
		CategoryData, http.StatusInternalServerError, message, cause, nil)
}

// NewConfigurationError reports structurally invalid configuration
func NewConfigurationError(message string, cause error) *AppError {
	return newError(errbuilder.New().WithCode(errbuilder.CodeFailedPrecondition),
		CategoryConfiguration, http.StatusInternalServerError, message, cause, nil)
}

// NewNotFoundError reports a missing catalog entity
func NewNotFoundError(entity, id string) *AppError {
	return newError(errbuilder.New().WithCode(errbuilder.CodeInvalidArgument),
		CategoryNotFound, http.StatusNotFound, fmt.Sprintf("%s not found", entity), nil,
		map[string]string{"id": id})
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *AppError {
	appErr := newError(errbuilder.New().WithCode(errbuilder.CodeInternal),
		CategoryInternal, http.StatusInternalServerError, message, cause, nil)

	if gin.Mode() == gin.DebugMode || gin.Mode() == gin.TestMode {
		appErr.StackTrace = captureStackTrace()
	}

	return appErr
}

func captureStackTrace() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// ToAppError converts any error to an AppError
func ToAppError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var ebErr *errbuilder.ErrBuilder
	if errors.As(err, &ebErr) {
		return NewAppError(ebErr, CategoryInternal, http.StatusInternalServerError)
	}

	return NewInternalError("An unexpected error occurred", err)
}

// IsCategory reports whether err (or anything it wraps) is an AppError of the given category
func IsCategory(err error, category ErrorCategory) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Category == category
}

// ErrorHandler is a Gin middleware that provides centralized error handling
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			appErr := ToAppError(c.Errors.Last().Err)
			LogError(c, appErr)
			c.JSON(appErr.HTTPStatus, gin.H{
				"error":    appErr.ErrBuilder.Msg,
				"category": appErr.Category,
			})
		}
	}
}

// RecoveryHandler provides panic recovery with structured error responses
func RecoveryHandler() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		appErr := NewInternalError("Panic recovered", fmt.Errorf("%v", recovered))
		appErr.StackTrace = captureStackTrace()

		LogError(c, appErr)
		c.AbortWithStatusJSON(appErr.HTTPStatus, gin.H{
			"error":    appErr.ErrBuilder.Msg,
			"category": appErr.Category,
		})
	})
}

// LogError logs an error with appropriate level and request context
func LogError(c *gin.Context, err *AppError) {
	logEntry := slog.With(
		"error_category", err.Category,
		"error_code", err.ErrBuilder.ErrCode(),
		"http_status", err.HTTPStatus,
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
	)

	switch err.Category {
	case CategoryValidation, CategoryNotFound:
		logEntry.Warn(err.ErrBuilder.Msg)
	case CategoryNetwork, CategoryTimeout:
		logEntry.Info(err.ErrBuilder.Msg, "cause", err.ErrBuilder.Unwrap())
	default:
		logEntry.Error(err.ErrBuilder.Msg, "cause", err.ErrBuilder.Unwrap())
	}

	if err.StackTrace != "" && (gin.Mode() == gin.DebugMode || gin.Mode() == gin.TestMode) {
		logEntry.Debug("stack_trace", "trace", err.StackTrace)
	}
}

// WrapError wraps an error with additional context
func WrapError(err error, message string, args ...interface{}) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%s: %w", fmt.Sprintf(message, args...), err)
}

// SafeClose safely closes a resource and logs any errors
func SafeClose(closer interface{ Close() error }, resourceName string) {
	if closer == nil {
		return
	}

	if err := closer.Close(); err != nil {
		slog.Warn("Failed to close resource",
			"resource", resourceName,
			"error", err)
	}
}
