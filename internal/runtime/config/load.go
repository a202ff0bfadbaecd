package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. CLOUDMESH_SERVER_PORT.
const EnvPrefix = "CLOUDMESH"

// Defaults applied before any file or environment value.
var defaults = map[string]any{
	"server.host":                 "localhost",
	"server.port":                 8080,
	"registry.heartbeat-interval": 30 * time.Second,
	"registry.fetch-interval":     30 * time.Second,
	"registry.lease-duration":     90 * time.Second,
	"registry.eviction-interval":  60 * time.Second,
	"lj.login-service-id":         "cloud-client",
	"lj.restart-settle-delay":     5 * time.Second,
	"session.store":               SessionStoreRedis,
	"redis.addr":                  "localhost:6379",
	"session.max-inactive":        30 * time.Minute,
	"pubsub.system":               "channel",
	"pubsub.poison-queue":         "cloudmesh.poison",
	"metrics.enabled":             true,
}

// NewViper builds a viper instance reading file (or cloudmesh.{yaml,toml,json}
// from the working directory and ./config when file is empty), merging a
// "<base>-<profile>.<ext>" overlay for each profile, then CLOUDMESH_*
// environment variables.
func NewViper(file string, profiles []string) (*viper.Viper, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("cloudmesh")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		v.Set("profiles", profiles)
		return v, nil
	}

	base := v.ConfigFileUsed()
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for _, profile := range profiles {
		overlay := stem + "-" + profile + ext
		if _, err := os.Stat(overlay); err != nil {
			continue
		}
		v.SetConfigFile(overlay)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("merge profile %s: %w", profile, err)
		}
	}
	v.SetConfigFile(base)
	v.Set("profiles", profiles)
	return v, nil
}

// Load reads a Config out of v and validates it.
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		return nil, errors.New("config: viper instance is nil")
	}

	cfg := &Config{
		ServiceName: v.GetString("service.name"),
		Host:        v.GetString("server.host"),
		Port:        v.GetInt("server.port"),
		Profiles:    v.GetStringSlice("profiles"),

		RegistryURLs:          v.GetStringSlice("registry.urls"),
		HeartbeatInterval:     v.GetDuration("registry.heartbeat-interval"),
		RegistryFetchInterval: v.GetDuration("registry.fetch-interval"),
		RegistryPeers:         v.GetStringSlice("registry.peers"),
		LeaseDuration:         v.GetDuration("registry.lease-duration"),
		EvictionInterval:      v.GetDuration("registry.eviction-interval"),

		ConfigServerURL: v.GetString("config.server-url"),
		ConfigDir:       v.GetString("config.dir"),

		LoginServiceID:     v.GetString("lj.login-service-id"),
		TargetInstances:    v.GetStringMapString("lj.target-instances"),
		LaunchBinary:       v.GetString("lj.launch-binary"),
		RestartSettleDelay: v.GetDuration("lj.restart-settle-delay"),

		DatabaseURL: v.GetString("datasource.url"),

		SessionStore:       v.GetString("session.store"),
		SessionMaxInactive: v.GetDuration("session.max-inactive"),
		RedisAddr:          v.GetString("redis.addr"),
		RedisPassword:      v.GetString("redis.password"),
		RedisDB:            v.GetInt("redis.db"),

		PubSubSystem:       v.GetString("pubsub.system"),
		KafkaBrokers:       v.GetStringSlice("pubsub.kafka.brokers"),
		KafkaConsumerGroup: v.GetString("pubsub.kafka.consumer-group"),
		RabbitMQURL:        v.GetString("pubsub.rabbitmq.url"),
		NATSURL:            v.GetString("pubsub.nats.url"),
		HTTPServerAddress:  v.GetString("pubsub.http.server-address"),
		HTTPPublisherURL:   v.GetString("pubsub.http.publisher-url"),
		AWSRegion:          v.GetString("pubsub.aws.region"),
		AWSAccountID:       v.GetString("pubsub.aws.account-id"),
		AWSAccessKeyID:     v.GetString("pubsub.aws.access-key-id"),
		AWSSecretAccessKey: v.GetString("pubsub.aws.secret-access-key"),
		AWSEndpoint:        v.GetString("pubsub.aws.endpoint"),
		PoisonQueue:        v.GetString("pubsub.poison-queue"),

		RetryMaxRetries:      v.GetInt("pubsub.retry.max-retries"),
		RetryInitialInterval: v.GetDuration("pubsub.retry.initial-interval"),
		RetryMaxInterval:     v.GetDuration("pubsub.retry.max-interval"),

		MetricsEnabled: v.GetBool("metrics.enabled"),

		Properties: flatten(v),
		Bindings:   loadBindings(v),
	}
	// The keeper is off whenever the "single" profile is active.
	cfg.KeeperEnabled = len(cfg.TargetInstances) > 0 && !cfg.ActiveProfile("single")

	if cfg.KafkaConsumerGroup == "" {
		cfg.KafkaConsumerGroup = cfg.ServiceName
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadBindings(v *viper.Viper) map[string]BindingConfig {
	raw := v.GetStringMap("bindings")
	if len(raw) == 0 {
		return nil
	}
	bindings := make(map[string]BindingConfig, len(raw))
	for channel := range raw {
		prefix := "bindings." + channel
		bindings[channel] = BindingConfig{
			Destination: v.GetString(prefix + ".destination"),
			Types:       v.GetStringSlice(prefix + ".types"),
		}
	}
	return bindings
}

func flatten(v *viper.Viper) map[string]string {
	keys := v.AllKeys()
	props := make(map[string]string, len(keys))
	for _, key := range keys {
		switch value := v.Get(key).(type) {
		case string:
			props[key] = value
		case nil:
		default:
			props[key] = fmt.Sprint(value)
		}
	}
	return props
}
