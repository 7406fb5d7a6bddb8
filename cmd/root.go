package cmd

import (
	"context"
	"fmt"
	"github.com/arcward/cardtrivia/cardtrivia"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"
)

var (
	cfg        = cardtrivia.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "cardtrivia [flags]",
	Short: "A Discord trivia bot for guessing cards from their text",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := unmarshalConfig(cfg); err != nil {
			log.Fatalln(err)
		}
	},
}

func unmarshalConfig(c *cardtrivia.Config) error {
	return viper.Unmarshal(
		c,
		viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(" "),
				LevelToStringHookFunc(),
			),
		),
	)
}

// LevelToStringHookFunc decodes level names ('DEBUG', 'INFO', 'WARN',
// 'ERROR') into *slog.LevelVar fields.
// mapstructure decodes into the slog.LevelVar itself (not the pointer)
// when the field is already set, so both targets are handled.
func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	levelVarType := reflect.TypeOf(slog.LevelVar{})
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		switch {
		case t == levelVarType:
		case t.Kind() == reflect.Ptr && t.Elem() == levelVarType:
		default:
			return data, nil
		}
		lvlVar, err := levelStringToLevelVar(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		fmt.Println("loading env from file", configFile)
		if err := godotenv.Load(configFile); err != nil {
			log.Printf("unable to load %s: %v", configFile, err)
		}
	}

	viper.SetDefault("database", cardtrivia.DefaultDatabase)
	viper.SetDefault("database_type", cardtrivia.DefaultDatabaseType)
	viper.SetDefault("database_slow_threshold", cardtrivia.DefaultDatabaseSlowThreshold)
	viper.SetDefault("database_log_level", cardtrivia.DefaultDatabaseLogLevel.String())
	viper.SetDefault("streak_backend", cardtrivia.DefaultStreakBackend)
	viper.SetDefault("log_level", cardtrivia.DefaultLogLevel.String())
	viper.SetDefault("startup_timeout", cardtrivia.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", cardtrivia.DefaultShutdownTimeout)

	// Redis streak store
	viper.SetDefault("redis.addr", cardtrivia.DefaultRedisAddr)
	viper.SetDefault("redis.username", "")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.prefix", cardtrivia.DefaultRedisPrefix)

	// Card content
	viper.SetDefault("content.base_url", cardtrivia.DefaultContentBaseURL)
	viper.SetDefault("content.language", cardtrivia.DefaultContentLanguage)
	viper.SetDefault("content.cache_ttl", cardtrivia.DefaultContentCacheTTL)
	viper.SetDefault(
		"content.requests_per_second",
		cardtrivia.DefaultContentRequestsPerSecond,
	)
	viper.SetDefault("content.request_timeout", cardtrivia.DefaultContentRequestTimeout)
	viper.SetDefault("content.log_level", cardtrivia.DefaultContentLogLevel.String())

	// Trivia
	viper.SetDefault("trivia.answer_timeout", cardtrivia.DefaultAnswerTimeout)
	viper.SetDefault("trivia.cooldown", cardtrivia.DefaultTriviaCooldown)
	viper.SetDefault("trivia.build_timeout", cardtrivia.DefaultBuildTimeout)
	viper.SetDefault("trivia.description_limit", cardtrivia.DefaultDescriptionLimit)
	viper.SetDefault("trivia.leaderboard_size", cardtrivia.DefaultLeaderboardSize)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault("discord.log_level", cardtrivia.DefaultDiscordLogLevel.String())
	viper.SetDefault(
		"discord.discordgo_log_level",
		cardtrivia.DefaultDiscordgoLogLevel.String(),
	)
	viper.SetDefault("discord.gateway_intents", int(cardtrivia.DefaultDiscordGatewayIntent))
	viper.SetDefault("discord.custom_status", cardtrivia.DefaultDiscordCustomStatus)
	viper.SetDefault("discord.error_message", cardtrivia.DefaultDiscordErrorMessage)

	// API config
	viper.SetDefault("api.enabled", false)
	viper.SetDefault("api.listen", cardtrivia.DefaultAPIListen)
	viper.SetDefault("api.listen_network", "tcp")
	viper.SetDefault("api.log_level", cardtrivia.DefaultAPILogLevel.String())
	viper.SetDefault("api.read_timeout", cardtrivia.DefaultReadTimeout)
	viper.SetDefault("api.read_header_timeout", cardtrivia.DefaultReadHeaderTimeout)
	viper.SetDefault("api.write_timeout", cardtrivia.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", cardtrivia.DefaultIdleTimeout)
	viper.SetDefault("api.ssl.tls_min_version", cardtrivia.DefaultAPITLSMinVersion)

	fatalErr := func(err error) {
		if err != nil {
			log.Fatalf("error: %v", err)
		}
	}
	fatalErr(viper.BindEnv("api.ssl.cert_file"))
	fatalErr(viper.BindEnv("api.ssl.key_file"))

	// API: CORS config. Lists set from the environment are space-separated.
	viper.SetDefault("api.cors.allow_headers", cardtrivia.DefaultCORSAllowHeaders)
	viper.SetDefault("api.cors.allow_methods", cardtrivia.DefaultCORSAllowMethods)
	viper.SetDefault("api.cors.expose_headers", cardtrivia.DefaultCORSExposeHeaders)
	viper.SetDefault("api.cors.allow_origins", []string{})
	viper.SetDefault("api.cors.max_age", cardtrivia.DefaultCORSMaxAge)
	viper.SetDefault(
		"api.cors.allow_credentials",
		cardtrivia.DefaultAPICORSAllowCredentials,
	)

	envPrefix := os.Getenv(cardtrivia.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = cardtrivia.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

//goland:noinspection GoLinter,GoLinter
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Config file to use",
	)
}
