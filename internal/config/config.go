// Package config owns configuration keys, defaults and validation shared by the commands.
package config

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/f-sync/followback/internal/exports"
	"github.com/f-sync/followback/internal/ratelimit"
)

// Configuration keys. Each key doubles as a flag name and, upper-cased with the FOLLOWBACK_
// prefix, as an environment variable.
const (
	KeyConfig         = "config"
	KeyFollowers      = "followers"
	KeyFollowing      = "following"
	KeyState          = "state"
	KeyShortWindow    = "short-window"
	KeyShortLimit     = "short-limit"
	KeyLongWindow     = "long-window"
	KeyLongLimit      = "long-limit"
	KeyHost           = "host"
	KeyPort           = "port"
	KeyWatch          = "watch"
	KeyWatchDebounce  = "watch-debounce"
	KeyStatusInterval = "status-interval"
	KeyDebug          = "debug"
)

// Default values.
const (
	EnvPrefix             = "FOLLOWBACK"
	DefaultFollowers      = "followers_1.json"
	DefaultFollowing      = "following.json"
	DefaultState          = "followback-state.json"
	DefaultHost           = "127.0.0.1"
	DefaultPort           = 8080
	DefaultWatchDebounce  = 500 * time.Millisecond
	DefaultStatusInterval = 5 * time.Second
)

const (
	configFileType                 = "toml"
	flagConfigDescription          = "Path to a TOML configuration file"
	flagFollowersDescription       = "Followers export (path or http(s) URL)"
	flagFollowingDescription       = "Following export (path or http(s) URL)"
	flagStateDescription           = "State backend DSN (path, file://, memory://, sqlite://, postgres://)"
	flagShortWindowDescription     = "Short rate window"
	flagShortLimitDescription      = "Unfollows allowed per short window"
	flagLongWindowDescription      = "Long rate window"
	flagLongLimitDescription       = "Unfollows allowed per long window"
	flagHostDescription            = "Host interface for the HTTP server"
	flagPortDescription            = "Port for the HTTP server"
	flagWatchDescription           = "Reload when the export files change"
	flagWatchDebounceDescription   = "Quiet period before a reload after file changes"
	flagStatusIntervalDescription  = "Interval between rate status pushes on the websocket stream"
	flagDebugDescription           = "Enable development logging"
	errMessageReadConfigFile       = "read config file"
	errMessageInvalidConfiguration = "invalid configuration"
	errMessageMissingSource        = "export source is empty"
	errMessageMissingState         = "state backend is empty"
	errMessageInvalidPort          = "port must be between 1 and 65535"
	errMessageInvalidInterval      = "intervals must be positive"
	errMessageMarshalSample        = "marshal sample configuration"
	errMessageCreateLogger         = "create logger"
)

// ErrInvalidConfiguration wraps every validation failure.
var ErrInvalidConfiguration = errors.New(errMessageInvalidConfiguration)

// Config is the resolved configuration of a command.
type Config struct {
	Followers      string
	Following      string
	State          string
	Limits         ratelimit.Limits
	Host           string
	Port           int
	Watch          bool
	WatchDebounce  time.Duration
	StatusInterval time.Duration
	Debug          bool
}

// Sources returns the export locations.
func (configuration Config) Sources() exports.Sources {
	return exports.Sources{Followers: configuration.Followers, Following: configuration.Following}
}

// Address returns host:port for the HTTP server.
func (configuration Config) Address() string {
	return net.JoinHostPort(configuration.Host, strconv.Itoa(configuration.Port))
}

// Validate reports the first unusable setting.
func (configuration Config) Validate() error {
	if strings.TrimSpace(configuration.Followers) == "" || strings.TrimSpace(configuration.Following) == "" {
		return fmt.Errorf("%w: %s", ErrInvalidConfiguration, errMessageMissingSource)
	}
	if strings.TrimSpace(configuration.State) == "" {
		return fmt.Errorf("%w: %s", ErrInvalidConfiguration, errMessageMissingState)
	}
	if err := configuration.Limits.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}
	if configuration.Port <= 0 || configuration.Port > 65535 {
		return fmt.Errorf("%w: %s", ErrInvalidConfiguration, errMessageInvalidPort)
	}
	if configuration.WatchDebounce <= 0 || configuration.StatusInterval <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfiguration, errMessageInvalidInterval)
	}
	return nil
}

// RegisterFlags declares every configuration flag on flags.
func RegisterFlags(flags *pflag.FlagSet) {
	limits := ratelimit.DefaultLimits()
	flags.String(KeyConfig, "", flagConfigDescription)
	flags.String(KeyFollowers, DefaultFollowers, flagFollowersDescription)
	flags.String(KeyFollowing, DefaultFollowing, flagFollowingDescription)
	flags.String(KeyState, DefaultState, flagStateDescription)
	flags.Duration(KeyShortWindow, limits.ShortWindow, flagShortWindowDescription)
	flags.Int(KeyShortLimit, limits.ShortLimit, flagShortLimitDescription)
	flags.Duration(KeyLongWindow, limits.LongWindow, flagLongWindowDescription)
	flags.Int(KeyLongLimit, limits.LongLimit, flagLongLimitDescription)
	flags.String(KeyHost, DefaultHost, flagHostDescription)
	flags.Int(KeyPort, DefaultPort, flagPortDescription)
	flags.Bool(KeyWatch, false, flagWatchDescription)
	flags.Duration(KeyWatchDebounce, DefaultWatchDebounce, flagWatchDebounceDescription)
	flags.Duration(KeyStatusInterval, DefaultStatusInterval, flagStatusIntervalDescription)
	flags.Bool(KeyDebug, false, flagDebugDescription)
}

// BindFlags binds every registered flag to the viper key of the same name.
func BindFlags(configuration *viper.Viper, flags *pflag.FlagSet) error {
	var bindErr error
	flags.VisitAll(func(flag *pflag.Flag) {
		if bindErr != nil {
			return
		}
		bindErr = configuration.BindPFlag(flag.Name, flag)
	})
	return bindErr
}

// ConfigureEnvironment enables FOLLOWBACK_* environment overrides.
func ConfigureEnvironment(configuration *viper.Viper) {
	configuration.SetEnvPrefix(EnvPrefix)
	configuration.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	configuration.AutomaticEnv()
}

// Load resolves the configuration from flags, environment and the optional config file.
func Load(configuration *viper.Viper) (Config, error) {
	if configFile := strings.TrimSpace(configuration.GetString(KeyConfig)); configFile != "" {
		configuration.SetConfigFile(configFile)
		if filepath.Ext(configFile) == "" {
			configuration.SetConfigType(configFileType)
		}
		if err := configuration.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("%s: %w", errMessageReadConfigFile, err)
		}
	}
	resolved := Config{
		Followers: configuration.GetString(KeyFollowers),
		Following: configuration.GetString(KeyFollowing),
		State:     configuration.GetString(KeyState),
		Limits: ratelimit.Limits{
			ShortWindow: configuration.GetDuration(KeyShortWindow),
			ShortLimit:  configuration.GetInt(KeyShortLimit),
			LongWindow:  configuration.GetDuration(KeyLongWindow),
			LongLimit:   configuration.GetInt(KeyLongLimit),
		},
		Host:           configuration.GetString(KeyHost),
		Port:           configuration.GetInt(KeyPort),
		Watch:          configuration.GetBool(KeyWatch),
		WatchDebounce:  configuration.GetDuration(KeyWatchDebounce),
		StatusInterval: configuration.GetDuration(KeyStatusInterval),
		Debug:          configuration.GetBool(KeyDebug),
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

// NewLogger builds a production logger, or a development logger when debug is set.
func NewLogger(debug bool) (*zap.Logger, error) {
	build := zap.NewProduction
	if debug {
		build = zap.NewDevelopment
	}
	logger, err := build()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errMessageCreateLogger, err)
	}
	return logger, nil
}

type sampleFile struct {
	Followers      string `toml:"followers" comment:"followers export, path or http(s) URL"`
	Following      string `toml:"following" comment:"following export, path or http(s) URL"`
	State          string `toml:"state" comment:"file path, file://, memory://, sqlite://path or postgres://..."`
	ShortWindow    string `toml:"short-window"`
	ShortLimit     int    `toml:"short-limit"`
	LongWindow     string `toml:"long-window"`
	LongLimit      int    `toml:"long-limit"`
	Host           string `toml:"host"`
	Port           int    `toml:"port"`
	Watch          bool   `toml:"watch"`
	WatchDebounce  string `toml:"watch-debounce"`
	StatusInterval string `toml:"status-interval"`
	Debug          bool   `toml:"debug"`
}

// SampleTOML renders a configuration file holding every default.
func SampleTOML() ([]byte, error) {
	limits := ratelimit.DefaultLimits()
	data, err := toml.Marshal(sampleFile{
		Followers:      DefaultFollowers,
		Following:      DefaultFollowing,
		State:          DefaultState,
		ShortWindow:    limits.ShortWindow.String(),
		ShortLimit:     limits.ShortLimit,
		LongWindow:     limits.LongWindow.String(),
		LongLimit:      limits.LongLimit,
		Host:           DefaultHost,
		Port:           DefaultPort,
		WatchDebounce:  DefaultWatchDebounce.String(),
		StatusInterval: DefaultStatusInterval.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errMessageMarshalSample, err)
	}
	return data, nil
}
