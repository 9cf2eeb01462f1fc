package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	dberrors "github.com/systmms/dbrotate/internal/errors"
)

// Rotation strategies
const (
	StrategyMultiUser  = "multi-user"
	StrategySingleUser = "single-user"
)

// Config holds the runtime configuration. It is loaded once per invocation
// and handed to constructors; nothing else reads the environment.
type Config struct {
	Strategy       string `mapstructure:"strategy" yaml:"strategy" validate:"oneof=multi-user single-user"`
	MasterSecretID string `mapstructure:"master_secret_id" yaml:"master_secret_id" validate:"required_if=Strategy multi-user"`
	AppUser1       string `mapstructure:"app_user_1" yaml:"app_user_1" validate:"required_if=Strategy multi-user"`
	AppUser2       string `mapstructure:"app_user_2" yaml:"app_user_2" validate:"required_if=Strategy multi-user"`

	AWS       AWSConfig       `mapstructure:"aws" yaml:"aws"`
	Password  PasswordConfig  `mapstructure:"password" yaml:"password"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Provision ProvisionConfig `mapstructure:"provision" yaml:"provision"`
	Test      TestConfig      `mapstructure:"test" yaml:"test"`
	Cluster   ClusterConfig   `mapstructure:"cluster" yaml:"cluster"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

// AWSConfig selects the region, credentials and an optional endpoint
// override (LocalStack)
type AWSConfig struct {
	Region        string `mapstructure:"region" yaml:"region" validate:"required"`
	Endpoint      string `mapstructure:"endpoint" yaml:"endpoint,omitempty" validate:"omitempty,url"`
	Profile       string `mapstructure:"profile" yaml:"profile,omitempty"`
	AssumeRoleARN string `mapstructure:"assume_role_arn" yaml:"assume_role_arn,omitempty" validate:"omitempty,startswith=arn:"`
}

// PasswordConfig is the policy handed to the password generator
type PasswordConfig struct {
	Length            int    `mapstructure:"length" yaml:"length" validate:"min=4,max=4096"`
	ExcludeCharacters string `mapstructure:"exclude_characters" yaml:"exclude_characters"`
}

// DatabaseConfig controls connections and privilege bootstrap
type DatabaseConfig struct {
	CABundlePath      string        `mapstructure:"ca_bundle_path" yaml:"ca_bundle_path,omitempty"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout" validate:"gt=0"`
	DefaultPrivileges []string      `mapstructure:"default_privileges" yaml:"default_privileges" validate:"min=1,dive,required"`
	AllowBootstrap    bool          `mapstructure:"allow_bootstrap" yaml:"allow_bootstrap"`
}

// ProvisionConfig drives the multi-user setSecret retry loop
type ProvisionConfig struct {
	MaxAttempts        int           `mapstructure:"max_attempts" yaml:"max_attempts" validate:"min=1"`
	RetryDelay         time.Duration `mapstructure:"retry_delay" yaml:"retry_delay" validate:"gte=0"`
	MaxRetryDelay      time.Duration `mapstructure:"max_retry_delay" yaml:"max_retry_delay" validate:"gtefield=RetryDelay"`
	MasterRotationWait time.Duration `mapstructure:"master_rotation_wait" yaml:"master_rotation_wait" validate:"gte=0"`
	PropagationWait    time.Duration `mapstructure:"propagation_wait" yaml:"propagation_wait" validate:"gte=0"`
}

// TestConfig drives the testSecret connection check
type TestConfig struct {
	Attempts   int           `mapstructure:"attempts" yaml:"attempts" validate:"min=1"`
	RetryDelay time.Duration `mapstructure:"retry_delay" yaml:"retry_delay" validate:"gte=0"`
}

// ClusterConfig applies to the single-user strategy
type ClusterConfig struct {
	PropagationWait time.Duration `mapstructure:"propagation_wait" yaml:"propagation_wait" validate:"gte=0"`
}

// MetricsConfig enables pushing metrics when a command finishes
type MetricsConfig struct {
	Pushgateway string `mapstructure:"pushgateway" yaml:"pushgateway,omitempty" validate:"omitempty,url"`
}

// LogConfig selects the log level and output format
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=trace debug info warn warning error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=json console"`
}

// setting binds a config key to its environment variable and default
type setting struct {
	key string
	env string
	def interface{}
}

var settings = []setting{
	{"strategy", "ROTATION_STRATEGY", StrategyMultiUser},
	{"master_secret_id", "MASTER_SECRET_ARN", ""},
	{"app_user_1", "APP_USER_1", ""},
	{"app_user_2", "APP_USER_2", ""},
	{"aws.region", "AWS_REGION", "us-east-1"},
	{"aws.endpoint", "AWS_ENDPOINT_URL", ""},
	{"aws.profile", "AWS_PROFILE", ""},
	{"aws.assume_role_arn", "AWS_ASSUME_ROLE_ARN", ""},
	{"password.length", "PASSWORD_LENGTH", 32},
	{"password.exclude_characters", "EXCLUDE_CHARACTERS", `/@"'\`},
	{"database.ca_bundle_path", "DB_CA_BUNDLE_PATH", ""},
	{"database.connect_timeout", "DB_CONNECTION_TIMEOUT", 30 * time.Second},
	{"database.default_privileges", "DEFAULT_APP_PRIVILEGES", "SELECT,INSERT,UPDATE,DELETE,CREATE,DROP"},
	{"database.allow_bootstrap", "ALLOW_BOOTSTRAP", true},
	{"provision.max_attempts", "SET_SECRET_MAX_RETRIES", 10},
	{"provision.retry_delay", "SET_SECRET_RETRY_DELAY", 3 * time.Second},
	{"provision.max_retry_delay", "SET_SECRET_MAX_RETRY_DELAY", 30 * time.Second},
	{"provision.master_rotation_wait", "MASTER_ROTATION_WAIT", 8 * time.Second},
	{"provision.propagation_wait", "DB_PASSWORD_PROPAGATION_WAIT", 5 * time.Second},
	{"test.attempts", "DB_CONNECTION_TEST_RETRIES", 3},
	{"test.retry_delay", "DB_CONNECTION_TEST_RETRY_DELAY", 5 * time.Second},
	{"cluster.propagation_wait", "RDS_PASSWORD_PROPAGATION_WAIT", 10 * time.Second},
	{"metrics.pushgateway", "METRICS_PUSHGATEWAY", ""},
	{"log.level", "LOG_LEVEL", "info"},
	{"log.format", "LOG_FORMAT", "json"},
}

// Keys lists every configuration key in declaration order
func Keys() []string {
	keys := make([]string, len(settings))
	for i, s := range settings {
		keys[i] = s.key
	}
	return keys
}

// EnvVar returns the environment variable bound to key, or ""
func EnvVar(key string) string {
	for _, s := range settings {
		if s.key == key {
			return s.env
		}
	}
	return ""
}

// Load builds the configuration from defaults, the optional YAML file at path
// and the environment, in increasing order of precedence.
func Load(path string) (*Config, error) {
	return LoadWith(viper.New(), path)
}

// LoadWith is Load on a caller-supplied viper instance, so flags bound to v
// take part in the lookup.
func LoadWith(v *viper.Viper, path string) (*Config, error) {
	for _, s := range settings {
		v.SetDefault(s.key, s.def)
		if err := v.BindEnv(s.key, s.env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", s.env, err)
		}
	}

	if path != "" {
		if err := readFile(v, path); err != nil {
			return nil, err
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		durationHook,
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, dberrors.ConfigError{
			Message:    err.Error(),
			Suggestion: "Durations take Go syntax (5s, 1m) or a number of seconds",
		}
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func readFile(v *viper.Viper, path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return dberrors.ConfigError{
				Field:      "path",
				Value:      path,
				Message:    "configuration file not found",
				Suggestion: "Check the --config path or rely on environment variables only",
			}
		}
		return dberrors.UserError{
			Message:    "Failed to read configuration file",
			Details:    err.Error(),
			Suggestion: "Check file permissions and path",
			Err:        err,
		}
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return dberrors.ConfigError{
			Field:      "path",
			Value:      path,
			Message:    fmt.Sprintf("invalid YAML syntax: %v", err),
			Suggestion: "Check YAML syntax with a validator",
		}
	}
	return nil
}

func (c *Config) normalize() {
	c.Strategy = strings.ToLower(strings.TrimSpace(c.Strategy))
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))

	privileges := c.Database.DefaultPrivileges[:0]
	for _, p := range c.Database.DefaultPrivileges {
		if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
			privileges = append(privileges, p)
		}
	}
	c.Database.DefaultPrivileges = privileges
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// Validate checks field constraints and the cross-field rules
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fieldError(verrs[0], c)
		}
		return dberrors.ConfigError{Message: err.Error()}
	}

	if c.MultiUser() && c.AppUser1 == c.AppUser2 {
		return dberrors.ConfigError{
			Field:      "app_user_2",
			Value:      c.AppUser2,
			Message:    "APP_USER_1 and APP_USER_2 must name different users",
			Suggestion: "Alternation needs two distinct database users",
		}
	}
	return nil
}

func fieldError(fe validator.FieldError, c *Config) dberrors.ConfigError {
	key := strings.TrimPrefix(fe.Namespace(), "Config.")

	msg := fmt.Sprintf("failed '%s' validation", fe.Tag())
	switch fe.Tag() {
	case "required", "required_if":
		msg = "is required"
		if c.MultiUser() {
			msg += " for the multi-user strategy"
		}
	case "oneof":
		msg = fmt.Sprintf("must be one of: %s", fe.Param())
	case "min", "gte", "gt":
		msg = fmt.Sprintf("must be at least %s", fe.Param())
		if fe.Tag() == "gt" {
			msg = fmt.Sprintf("must be greater than %s", fe.Param())
		}
	case "max":
		msg = fmt.Sprintf("must be at most %s", fe.Param())
	case "url":
		msg = "must be a URL"
	}

	suggestion := ""
	if env := EnvVar(key); env != "" {
		suggestion = fmt.Sprintf("Set %s or '%s' in the config file", env, key)
	}

	var value interface{}
	if s, ok := fe.Value().(string); !ok || s != "" {
		value = fe.Value()
	}

	return dberrors.ConfigError{
		Field:      key,
		Value:      value,
		Message:    msg,
		Suggestion: suggestion,
	}
}

// MultiUser reports whether the alternating-user strategy is selected
func (c *Config) MultiUser() bool {
	return c.Strategy == StrategyMultiUser
}

// Write renders the effective configuration as YAML
func (c *Config) Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("failed to render configuration: %w", err)
	}
	return enc.Close()
}

var durationType = reflect.TypeOf(time.Duration(0))

// durationHook decodes durations from Go duration strings or plain numbers of
// seconds.
func durationHook(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
	if t != durationType || f == durationType {
		return data, nil
	}

	switch v := data.(type) {
	case string:
		s := strings.TrimSpace(v)
		if secs, err := strconv.ParseFloat(s, 64); err == nil {
			return time.Duration(secs * float64(time.Second)), nil
		}
		return time.ParseDuration(s)
	case int:
		return time.Duration(v) * time.Second, nil
	case int64:
		return time.Duration(v) * time.Second, nil
	case uint64:
		return time.Duration(v) * time.Second, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	}
	return data, nil
}
