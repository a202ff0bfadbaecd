package errors

import sterrors "errors"

var (
	ErrConfigRequired    = sterrors.New("cloudmesh: configuration is required")
	ErrLoggerRequired    = sterrors.New("cloudmesh: logger is required")
	ErrHandlerRequired   = sterrors.New("cloudmesh: handler function is required")
	ErrListenerName      = sterrors.New("cloudmesh: listener name is required")
	ErrChannelUnknown    = sterrors.New("cloudmesh: channel is not bound")
	ErrChannelDirection  = sterrors.New("cloudmesh: channel direction does not allow this operation")
	ErrNoSubscribers     = sterrors.New("cloudmesh: channel has no subscribers")
	ErrPublisherRequired = sterrors.New("cloudmesh: publisher is required")
	ErrBinderStarted     = sterrors.New("cloudmesh: binder already started")

	ErrInstanceNotFound = sterrors.New("cloudmesh: instance not found")
	ErrInvalidInstance  = sterrors.New("cloudmesh: instance requires app name and port")
	ErrNoRegistry       = sterrors.New("cloudmesh: no registry url configured")

	ErrSessionNotFound = sterrors.New("cloudmesh: session not found")
	ErrAttributeAbsent = sterrors.New("cloudmesh: session attribute not set")

	ErrNoConfigServer = sterrors.New("cloudmesh: no config server url configured")
	ErrNoDataSource   = sterrors.New("cloudmesh: no data source configured")
)

// ConfigValidationError marks an error produced while validating configuration.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "cloudmesh: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error { return e.Err }

// NewConfigValidationError wraps err, returning nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
