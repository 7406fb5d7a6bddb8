//nolint:lll // struct tags can't be split
package cardtrivia

import (
	"crypto/tls"
	"errors"
	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
	"github.com/go-playground/validator/v10"
	"log/slog"
	"net/http"
	"time"
)

const (
	EnvvarSetEnvPrefix = "CARDTRIVIA_ENV_PREFIX"
	DefaultEnvPrefix   = "CT"

	DefaultDatabaseType          = dbTypeSQLite
	DefaultDatabase              = "cardtrivia.sqlite3"
	DefaultDatabaseSlowThreshold = 200 * time.Millisecond
	DefaultDatabaseLogLevel      = slog.LevelWarn
	DefaultStreakBackend         = streakBackendDatabase
	DefaultLogLevel              = slog.LevelInfo
	DefaultStartupTimeout        = 30 * time.Second
	DefaultShutdownTimeout       = 30 * time.Second

	DefaultRedisAddr   = "127.0.0.1:6379"
	DefaultRedisPrefix = "cardtrivia"

	DefaultContentBaseURL           = "https://db.ygoprodeck.com/api/v7/cardinfo.php"
	DefaultContentLanguage          = "en"
	DefaultContentCacheTTL          = 6 * time.Hour
	DefaultContentRequestsPerSecond = 15
	DefaultContentRequestTimeout    = 30 * time.Second
	DefaultContentLogLevel          = slog.LevelInfo

	DefaultAnswerTimeout    = 30 * time.Second
	DefaultTriviaCooldown   = 10 * time.Second
	DefaultBuildTimeout     = 20 * time.Second
	DefaultDescriptionLimit = 300
	DefaultLeaderboardSize  = 10

	DefaultDiscordLogLevel      = slog.LevelInfo
	DefaultDiscordgoLogLevel    = slog.LevelWarn
	DefaultDiscordGatewayIntent = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsDirectMessageReactions
	DefaultDiscordCustomStatus = "/trivia to play!"
	DefaultDiscordErrorMessage = "sorry, something went wrong!"

	DefaultAPIListen               = "127.0.0.1:5000"
	DefaultAPILogLevel             = slog.LevelInfo
	DefaultAPITLSMinVersion        = tls.VersionTLS12
	DefaultReadTimeout             = 5 * time.Second
	DefaultReadHeaderTimeout       = 5 * time.Second
	DefaultWriteTimeout            = 10 * time.Second
	DefaultIdleTimeout             = 30 * time.Second
	DefaultAPICORSAllowCredentials = false
	defaultListenNetwork           = "tcp"

	streakBackendDatabase = "database"
	streakBackendRedis    = "redis"
)

var (
	DefaultCORSAllowMethods = []string{
		http.MethodGet,
		http.MethodOptions,
		http.MethodHead,
	}
	DefaultCORSAllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Accept",
		"Cache-Control",
		xRequestIDHeader,
	}
	DefaultCORSExposeHeaders = []string{
		"Content-Type",
		"Content-Length",
		xRequestIDHeader,
	}
	DefaultCORSMaxAge = 12 * time.Hour
)

var structValidator = validator.New()

type Config struct {
	// Database connection string, or sqlite file path
	Database string `yaml:"database" mapstructure:"database" json:"database"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// StreakBackend selects where streaks are kept: 'database' (the gorm
	// database above) or 'redis'
	StreakBackend string `yaml:"streak_backend" mapstructure:"streak_backend" json:"streak_backend" binding:"oneof=database redis"`

	Redis *RedisConfig `yaml:"redis" mapstructure:"redis" json:"redis"`

	// Content configures the card database the questions are drawn from
	Content *ContentConfig `yaml:"content" mapstructure:"content" json:"content"`

	// Trivia configures the question/answer flow
	Trivia *TriviaConfig `yaml:"trivia" mapstructure:"trivia" json:"trivia"`

	// Discord configures aspects of the Discord bot itself
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// API configures the read-only HTTP API
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout sets a limit on the amount of time the bot has to
	// connect to its store and to discord. If this is passed, startup is aborted.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout" binding:"min=1s"`

	// ShutdownTimeout is the time to allow in-flight questions and
	// API requests to finish before connections are closed.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	HTTPClient *http.Client `log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// RedisConfig is only used when [Config.StreakBackend] is 'redis'
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr" json:"addr"`
	Username string `yaml:"username" mapstructure:"username" json:"username"`
	Password string `yaml:"password" mapstructure:"password" json:"password" log:"[redacted]"`
	DB       int    `yaml:"db" mapstructure:"db" json:"db" binding:"min=0"`

	// Prefix is prepended to every key the streak store writes
	Prefix string `yaml:"prefix" mapstructure:"prefix" json:"prefix"`
}

// ContentConfig configures the YGOPRODeck card source
type ContentConfig struct {
	// BaseURL of the cardinfo endpoint
	BaseURL string `yaml:"base_url" mapstructure:"base_url" json:"base_url" binding:"required,url"`

	// Language of card names and descriptions (en, fr, de, it, pt)
	Language string `yaml:"language" mapstructure:"language" json:"language" binding:"required"`

	// CacheTTL is how long a fetched pool is reused before fetching again.
	// 0 disables caching.
	CacheTTL time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl" json:"cache_ttl" binding:"min=0"`

	// RequestsPerSecond caps outgoing requests. YGOPRODeck
	// blocks clients going over 20/s.
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second" json:"requests_per_second" binding:"gt=0,lte=20"`

	// RequestTimeout bounds each request. The full pool is a large payload.
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout" json:"request_timeout" binding:"min=1s"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// TriviaConfig configures the question/answer flow
type TriviaConfig struct {
	// AnswerTimeout is how long the asking user has to react with an answer
	AnswerTimeout time.Duration `yaml:"answer_timeout" mapstructure:"answer_timeout" json:"answer_timeout" binding:"min=1s,max=14m"`

	// Cooldown is the minimum time between /trivia uses, per user. 0 disables.
	Cooldown time.Duration `yaml:"cooldown" mapstructure:"cooldown" json:"cooldown" binding:"min=0"`

	// BuildTimeout bounds fetching cards and building a question
	BuildTimeout time.Duration `yaml:"build_timeout" mapstructure:"build_timeout" json:"build_timeout" binding:"min=1s"`

	// DescriptionLimit is the display budget (in characters) for the
	// redacted card description
	DescriptionLimit int `yaml:"description_limit" mapstructure:"description_limit" json:"description_limit" binding:"min=20,max=4000"`

	// LeaderboardSize is the number of rows shown by /leaderboard
	LeaderboardSize int `yaml:"leaderboard_size" mapstructure:"leaderboard_size" json:"leaderboard_size" binding:"min=1,max=100"`
}

// DiscordConfig configures the discord bot itself.
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Discord application ID (from the 'General Information' tab in the discord dev portal)
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" binding:"required"`

	// GuildID specifies the guild ID used when registering slash commands.
	// Leave empty for commands to be registered as global.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// Discord gateway intents. Reaction intents are required to receive answers.
	// See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	// CustomStatus is set on the bot user after connecting
	CustomStatus string `yaml:"custom_status" mapstructure:"custom_status" json:"custom_status"`

	// ErrorMessage is shown to users when something fails unexpectedly
	ErrorMessage string `yaml:"error_message" mapstructure:"error_message" json:"error_message" binding:"required"`

	httpClient *http.Client
}

// APIConfig configures the read-only HTTP API
type APIConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen (e.g., "127.0.0.1:5000").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"omitempty,oneof=tcp tcp4 tcp6 unix"`

	// Configuration for SSL/TLS. Served over plain HTTP when no cert is set.
	SSL SSLConfig `yaml:"ssl" mapstructure:"ssl" json:"ssl"`

	// The logging level for the API server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Cross-origin configuration
	CORS CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	// Maximum duration for reading the entire request, including the body.
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout" binding:"required_if=Enabled true"`

	// Amount of time allowed to read request headers.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout" binding:"required_if=Enabled true"`

	// Maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout" binding:"required_if=Enabled true"`

	// Maximum amount of time to wait for the next request when keep-alives are enabled.
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout" binding:"required_if=Enabled true"`
}

// SSLConfig specifies cert paths and the TLS version to use
type SSLConfig struct {
	// Path to an SSL certificate
	CertFile string `yaml:"cert_file" mapstructure:"cert_file" json:"cert_file"`

	// Path to an SSL cert key
	KeyFile string `yaml:"key_file" mapstructure:"key_file" json:"key_file"`

	// Minimum TLS version
	TLSMinVersion uint16 `yaml:"tls_min_version" mapstructure:"tls_min_version" json:"tls_min_version"`
}

// CORSConfig specifies cross-origin resource sharing settings
type CORSConfig struct {
	AllowOrigins     []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods     []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers" mapstructure:"allow_headers" json:"allow_headers"`
	ExposeHeaders    []string      `yaml:"expose_headers" mapstructure:"expose_headers" json:"expose_headers"`
	AllowCredentials bool          `yaml:"allow_credentials" mapstructure:"allow_credentials" json:"allow_credentials"`
	MaxAge           time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

func (c CORSConfig) GINConfig() cors.Config {
	cfg := cors.Config{
		AllowOrigins:     c.AllowOrigins,
		AllowMethods:     c.AllowMethods,
		AllowHeaders:     c.AllowHeaders,
		MaxAge:           c.MaxAge,
		ExposeHeaders:    c.ExposeHeaders,
		AllowCredentials: c.AllowCredentials,
	}
	if len(cfg.AllowOrigins) == 0 {
		cfg.AllowAllOrigins = true
	}
	return cfg
}

func DefaultCORSConfig() CORSConfig {
	defaultMethods := make([]string, len(DefaultCORSAllowMethods))
	copy(defaultMethods, DefaultCORSAllowMethods)

	defaultHeaders := make([]string, len(DefaultCORSAllowHeaders))
	copy(defaultHeaders, DefaultCORSAllowHeaders)

	defaultExpose := make([]string, len(DefaultCORSExposeHeaders))
	copy(defaultExpose, DefaultCORSExposeHeaders)

	return CORSConfig{
		AllowOrigins:     []string{},
		AllowMethods:     defaultMethods,
		AllowHeaders:     defaultHeaders,
		ExposeHeaders:    defaultExpose,
		MaxAge:           DefaultCORSMaxAge,
		AllowCredentials: DefaultAPICORSAllowCredentials,
	}
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	dbLogLevel := &slog.LevelVar{}
	apiLogLevel := &slog.LevelVar{}
	contentLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	dbLogLevel.Set(DefaultDatabaseLogLevel)
	apiLogLevel.Set(DefaultAPILogLevel)
	contentLogLevel.Set(DefaultContentLogLevel)

	return &Config{
		DatabaseType:          DefaultDatabaseType,
		Database:              DefaultDatabase,
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		StreakBackend:         DefaultStreakBackend,
		LogLevel:              mainLogLevel,
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		Redis: &RedisConfig{
			Addr:   DefaultRedisAddr,
			Prefix: DefaultRedisPrefix,
		},
		Content: &ContentConfig{
			BaseURL:           DefaultContentBaseURL,
			Language:          DefaultContentLanguage,
			CacheTTL:          DefaultContentCacheTTL,
			RequestsPerSecond: DefaultContentRequestsPerSecond,
			RequestTimeout:    DefaultContentRequestTimeout,
			LogLevel:          contentLogLevel,
		},
		Trivia: &TriviaConfig{
			AnswerTimeout:    DefaultAnswerTimeout,
			Cooldown:         DefaultTriviaCooldown,
			BuildTimeout:     DefaultBuildTimeout,
			DescriptionLimit: DefaultDescriptionLimit,
			LeaderboardSize:  DefaultLeaderboardSize,
		},
		Discord: &DiscordConfig{
			GatewayIntents:    DefaultDiscordGatewayIntent,
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
			CustomStatus:      DefaultDiscordCustomStatus,
			ErrorMessage:      DefaultDiscordErrorMessage,
		},
		API: &APIConfig{
			Listen:        DefaultAPIListen,
			ListenNetwork: defaultListenNetwork,
			SSL: SSLConfig{
				TLSMinVersion: DefaultAPITLSMinVersion,
			},
			LogLevel:          apiLogLevel,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ReadTimeout:       DefaultReadTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			CORS:              DefaultCORSConfig(),
		},
	}
}

// validateConfig runs the struct validator, then the checks that span
// more than one field.
func validateConfig(c *Config) error {
	if c == nil {
		return errors.New("nil config")
	}
	if err := structValidator.Struct(c); err != nil {
		return err
	}
	var errs []error
	if c.StreakBackend == streakBackendRedis {
		if c.Redis == nil || c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr is required when streak_backend=redis"))
		}
	}
	if c.Content != nil {
		if _, err := contentLanguageParam(c.Content.Language); err != nil {
			errs = append(errs, err)
		}
	}
	if c.API != nil && c.API.Enabled {
		ssl := c.API.SSL
		if (ssl.CertFile == "") != (ssl.KeyFile == "") {
			errs = append(
				errs,
				errors.New("api.ssl: cert_file and key_file must be set together"),
			)
		}
	}
	return errors.Join(errs...)
}

//nolint:gochecknoinits // validator tag name has to be set before first use
func init() {
	structValidator.SetTagName("binding")
}
