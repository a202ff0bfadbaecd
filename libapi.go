package cloudmesh

import (
	"github.com/spf13/viper"

	"github.com/drblury/cloudmesh/internal/app"
	"github.com/drblury/cloudmesh/internal/envelope"
	"github.com/drblury/cloudmesh/internal/registry"
	"github.com/drblury/cloudmesh/internal/runtime/binding"
	configpkg "github.com/drblury/cloudmesh/internal/runtime/config"
	errspkg "github.com/drblury/cloudmesh/internal/runtime/errors"
	idspkg "github.com/drblury/cloudmesh/internal/runtime/ids"
	"github.com/drblury/cloudmesh/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/cloudmesh/internal/runtime/logging"
	metadatapkg "github.com/drblury/cloudmesh/internal/runtime/metadata"
)

type (
	Config        = configpkg.Config
	BindingConfig = configpkg.BindingConfig

	App          = app.App
	Kind         = app.Kind
	Dependencies = app.Dependencies

	Binder                 = binding.Binder
	BindingInfo            = binding.BindingInfo
	MiddlewareRegistration = binding.MiddlewareRegistration
	RetryMiddlewareConfig  = binding.RetryMiddlewareConfig

	UnprocessableMessageError = binding.UnprocessableMessageError

	Message  = envelope.Message
	Metadata = metadatapkg.Metadata

	Instance    = registry.Instance
	Application = registry.Application
	Discovery   = registry.Discovery

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	ConfigValidationError = errspkg.ConfigValidationError
)

const (
	KindServer       = app.KindServer
	KindConfigClient = app.KindConfigClient
	KindClient       = app.KindClient
	KindBase         = app.KindBase
)

// Logical channel names.
const (
	Output            = binding.Output
	Input             = binding.Input
	CustomOutChannel1 = binding.CustomOutChannel1
	CustomOutChannel2 = binding.CustomOutChannel2
	CustomInChannel1  = binding.CustomInChannel1
	CustomInChannel2  = binding.CustomInChannel2
)

var (
	NewApp    = app.New
	ParseKind = app.ParseKind

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NewNopServiceLogger  = loggingpkg.NewNopServiceLogger

	DefaultMiddlewares      = binding.DefaultMiddlewares
	CorrelationIDMiddleware = binding.CorrelationIDMiddleware
	LogMessagesMiddleware   = binding.LogMessagesMiddleware
	TracerMiddleware        = binding.TracerMiddleware
	MetricsMiddleware       = binding.MetricsMiddleware
	RetryMiddleware         = binding.RetryMiddleware
	PoisonQueueMiddleware   = binding.PoisonQueueMiddleware
	RecovererMiddleware     = binding.RecovererMiddleware

	NewMetadata = metadatapkg.New
	CreateULID  = idspkg.CreateULID

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal

	ErrConfigRequired   = errspkg.ErrConfigRequired
	ErrLoggerRequired   = errspkg.ErrLoggerRequired
	ErrInstanceNotFound = errspkg.ErrInstanceNotFound
	ErrNoRegistry       = errspkg.ErrNoRegistry
	ErrSessionNotFound  = errspkg.ErrSessionNotFound
)

// LoadConfig reads file (or the default cloudmesh config locations when
// empty) with the overlays of profiles, then environment overrides.
func LoadConfig(file string, profiles []string) (*Config, error) {
	v, err := configpkg.NewViper(file, profiles)
	if err != nil {
		return nil, err
	}
	return configpkg.Load(v)
}

// LoadConfigFrom reads a Config out of an existing viper instance.
func LoadConfigFrom(v *viper.Viper) (*Config, error) {
	return configpkg.Load(v)
}
