package safety

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorCategory represents the category of an error for handling decisions.
type ErrorCategory string

const (
	ErrorCategoryNetwork    ErrorCategory = "network"
	ErrorCategoryRateLimit  ErrorCategory = "rate_limit"
	ErrorCategoryTimeout    ErrorCategory = "timeout"
	ErrorCategoryAuth       ErrorCategory = "auth"
	ErrorCategoryConfig     ErrorCategory = "config"
	ErrorCategoryValidation ErrorCategory = "validation"
	ErrorCategoryProvider   ErrorCategory = "provider"
	ErrorCategoryStore      ErrorCategory = "store"
	ErrorCategoryInternal   ErrorCategory = "internal"
)

// Moderation errors
var (
	ErrRateLimitExceeded     = errors.New("safety: rate limit exceeded")
	ErrDuplicateActive       = errors.New("safety: duplicate active record")
	ErrNotFound              = errors.New("safety: not found")
	ErrPermissionDenied      = errors.New("safety: permission denied")
	ErrClassifierUnavailable = errors.New("safety: classifier unavailable")
	ErrMuted                 = errors.New("safety: user is muted")
	ErrShadowbanned          = errors.New("safety: user is shadowbanned")
	ErrRevisionConflict      = errors.New("safety: revision conflict, stale update")
	ErrAlreadyResolved       = errors.New("safety: already resolved")
	ErrAppealExpired         = errors.New("safety: appeal window closed")
	ErrPersistence           = errors.New("safety: persistence failure")
	ErrStoreNotConfigured    = errors.New("safety: store not configured")
	ErrUnsupportedType       = errors.New("safety: unsupported content type")
	ErrContentTooLarge       = errors.New("safety: content exceeds size limit")

	// DuplicateActive refinements
	ErrAlreadyBlocked  = fmt.Errorf("%w: already blocked", ErrDuplicateActive)
	ErrDuplicateReport = fmt.Errorf("%w: report already open", ErrDuplicateActive)

	// Upstream errors
	ErrTimeout            = errors.New("safety: operation timeout")
	ErrRateLimited        = errors.New("safety: rate limited by provider")
	ErrNetworkUnreachable = errors.New("safety: network unreachable")
	ErrConnectionRefused  = errors.New("safety: connection refused")
	ErrDNSResolution      = errors.New("safety: DNS resolution failed")
	ErrAuthFailed         = errors.New("safety: authentication failed")
	ErrInvalidCredential  = errors.New("safety: invalid credentials")
	ErrMissingConfig      = errors.New("safety: missing required configuration")
	ErrInvalidConfig      = errors.New("safety: invalid configuration")
)

// ProviderError represents an error from a classifier backend.
type ProviderError struct {
	Provider   string        // Backend name (aliyun, huawei, tencent, remote)
	Code       string        // Error code from backend
	Message    string        // Error message
	StatusCode int           // HTTP status code if applicable
	Category   ErrorCategory // Error category for handling
	Retryable  bool          // Whether this error is retryable
	Err        error         // Underlying error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("safety: provider %s error [%d/%s]: %s", e.Provider, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("safety: provider %s error [%s]: %s", e.Provider, e.Code, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError creates a new provider error.
func NewProviderError(provider, code, message string) *ProviderError {
	pe := &ProviderError{
		Provider: provider,
		Code:     code,
		Message:  message,
		Category: ErrorCategoryProvider,
	}
	pe.Retryable = pe.isRetryable()
	return pe
}

// WithStatusCode sets the HTTP status code.
func (e *ProviderError) WithStatusCode(code int) *ProviderError {
	e.StatusCode = code
	e.Category = categorizeByStatusCode(code)
	e.Retryable = e.isRetryable()
	return e
}

// WithCategory sets the error category.
func (e *ProviderError) WithCategory(cat ErrorCategory) *ProviderError {
	e.Category = cat
	e.Retryable = e.isRetryable()
	return e
}

// WithCause sets the underlying error.
func (e *ProviderError) WithCause(err error) *ProviderError {
	e.Err = err
	return e
}

func (e *ProviderError) isRetryable() bool {
	switch e.Category {
	case ErrorCategoryNetwork, ErrorCategoryRateLimit, ErrorCategoryTimeout:
		return true
	}
	switch e.StatusCode {
	case 429, 500, 502, 503, 504:
		return true
	}
	return false
}

func categorizeByStatusCode(code int) ErrorCategory {
	switch {
	case code == 401 || code == 403:
		return ErrorCategoryAuth
	case code == 429:
		return ErrorCategoryRateLimit
	case code == 408 || code == 504:
		return ErrorCategoryTimeout
	case code >= 500:
		return ErrorCategoryInternal
	default:
		return ErrorCategoryProvider
	}
}

// ValidationError is a missing or malformed caller-supplied field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("safety: validation error on %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// StoreError represents a persistence failure. It matches ErrPersistence.
type StoreError struct {
	Operation string // create, update, query
	Table     string
	Err       error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("safety: store error during %s on %s: %v", e.Operation, e.Table, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrPersistence) match any store error.
func (e *StoreError) Is(target error) bool {
	return target == ErrPersistence
}

// NewStoreError creates a new store error.
func NewStoreError(operation, table string, err error) *StoreError {
	return &StoreError{
		Operation: operation,
		Table:     table,
		Err:       err,
	}
}

// IsProviderError checks if an error is a provider error.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// IsValidationError checks if an error is a validation error.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsStoreError checks if an error is a store error.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrNetworkUnreachable) || errors.Is(err, ErrConnectionRefused) ||
		errors.Is(err, ErrRevisionConflict) {
		return true
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}

	return IsNetworkError(err)
}

// IsNetworkError checks if an error is a network-related error.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrNetworkUnreachable) || errors.Is(err, ErrConnectionRefused) ||
		errors.Is(err, ErrDNSResolution) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	networkPatterns := []string{
		"connection refused",
		"connection reset",
		"no such host",
		"network is unreachable",
		"i/o timeout",
		"connection timed out",
		"dial tcp",
		"dial udp",
	}
	for _, pattern := range networkPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}

	return false
}

// IsAuthError checks if an error is an authentication/authorization error.
func IsAuthError(err error) bool {
	if errors.Is(err, ErrAuthFailed) || errors.Is(err, ErrPermissionDenied) ||
		errors.Is(err, ErrInvalidCredential) {
		return true
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Category == ErrorCategoryAuth
	}

	return false
}

// GetErrorCategory returns the category of an error.
func GetErrorCategory(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Category
	}

	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return ErrorCategoryValidation
	case errors.Is(err, ErrPersistence):
		return ErrorCategoryStore
	case errors.Is(err, ErrTimeout):
		return ErrorCategoryTimeout
	case errors.Is(err, ErrRateLimited), errors.Is(err, ErrRateLimitExceeded):
		return ErrorCategoryRateLimit
	case IsNetworkError(err):
		return ErrorCategoryNetwork
	case IsAuthError(err):
		return ErrorCategoryAuth
	case errors.Is(err, ErrMissingConfig), errors.Is(err, ErrInvalidConfig):
		return ErrorCategoryConfig
	}

	return ErrorCategoryInternal
}

// WrapNetworkError wraps a network error with appropriate sentinel error.
func WrapNetworkError(err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "connection refused") {
		return fmt.Errorf("%w: %v", ErrConnectionRefused, err)
	}
	if strings.Contains(msg, "no such host") || strings.Contains(msg, "dns") {
		return fmt.Errorf("%w: %v", ErrDNSResolution, err)
	}
	if strings.Contains(msg, "network is unreachable") {
		return fmt.Errorf("%w: %v", ErrNetworkUnreachable, err)
	}
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	return err
}
