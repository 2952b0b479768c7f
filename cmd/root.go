package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/yehezkieldio/avalon/avalon"
)

var (
	cfg     = avalon.DefaultConfig()
	envFile string
)

var rootCmd = &cobra.Command{
	Use: "avalon [flags]",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

// LevelToStringHookFunc decodes log level names into *slog.LevelVar
// fields during viper unmarshaling.
func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		typ := t.Elem()

		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvlVar := &slog.LevelVar{}
		if err := lvlVar.UnmarshalText([]byte(data.(string))); err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		return lvlVar, nil
	}
}

// Execute runs the root command, canceling its context on SIGINT,
// SIGHUP or SIGTERM.
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
			//
		}
	}()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initConfig() {
	if envFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		fmt.Println("loading env from file", envFile)
		if err := godotenv.Load(envFile); err != nil {
			log.Println("No .env file found")
		}
	}

	viper.SetDefault("database", avalon.DefaultDatabase)
	viper.SetDefault("database_type", avalon.DefaultDatabaseType)
	viper.SetDefault(
		"database_slow_threshold",
		avalon.DefaultDatabaseSlowThreshold,
	)
	viper.SetDefault(
		"database_log_level",
		avalon.DefaultDatabaseLogLevel.String(),
	)
	viper.SetDefault("development", false)

	viper.SetDefault("log_level", avalon.DefaultLogLevel.String())
	viper.SetDefault("shutdown_timeout", avalon.DefaultShutdownTimeout)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.owner_user_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault(
		"discord.log_level",
		avalon.DefaultDiscordLogLevel.String(),
	)

	// Discord: Webhook server
	viper.SetDefault(
		"discord.webhook_server.listen",
		avalon.DefaultWebhookServerListen,
	)
	viper.SetDefault("discord.webhook_server.listen_network", "tcp")
	viper.SetDefault("discord.webhook_server.public_key", "")
	viper.SetDefault(
		"discord.webhook_server.read_timeout",
		avalon.DefaultReadTimeout,
	)
	viper.SetDefault(
		"discord.webhook_server.read_header_timeout",
		avalon.DefaultReadHeaderTimeout,
	)
	viper.SetDefault(
		"discord.webhook_server.write_timeout",
		avalon.DefaultWriteTimeout,
	)
	viper.SetDefault(
		"discord.webhook_server.idle_timeout",
		avalon.DefaultIdleTimeout,
	)
	viper.SetDefault(
		"discord.webhook_server.log_level",
		avalon.DefaultWebhookLogLevel.String(),
	)

	fatalErr := func(err error) {
		if err != nil {
			log.Fatalf("error: %v", err)
		}
	}

	// Discord: Webhook server: SSL
	fatalErr(viper.BindEnv("discord.webhook_server.ssl.cert"))
	fatalErr(viper.BindEnv("discord.webhook_server.ssl.key"))
	fatalErr(viper.BindEnv("discord.webhook_server.ssl.tls_min_version"))

	// LLM config
	viper.SetDefault("llm.openrouter_api_key", "")
	viper.SetDefault("llm.openrouter_base_url", avalon.DefaultOpenRouterBaseURL)
	viper.SetDefault("llm.openrouter_referer", avalon.DefaultOpenRouterReferer)
	viper.SetDefault("llm.openrouter_title", avalon.DefaultOpenRouterTitle)
	viper.SetDefault("llm.groq_api_key", "")
	viper.SetDefault("llm.groq_base_url", avalon.DefaultGroqBaseURL)
	viper.SetDefault("llm.groq_model", avalon.DefaultGroqModel)
	viper.SetDefault("llm.default_model", avalon.DefaultModel)
	viper.SetDefault("llm.log_level", avalon.DefaultLLMLogLevel.String())

	// LLM: web search agent
	viper.SetDefault("llm.agent.enabled", false)
	viper.SetDefault("llm.agent.tavily_api_key", "")
	viper.SetDefault("llm.agent.tavily_base_url", avalon.DefaultTavilyBaseURL)
	viper.SetDefault("llm.agent.max_iterations", avalon.DefaultAgentMaxIterations)
	viper.SetDefault(
		"llm.agent.search_max_results",
		avalon.DefaultAgentSearchMaxResults,
	)

	envPrefix := os.Getenv(avalon.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = avalon.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	for _, key := range []string{
		"log_level",
		"database_log_level",
		"discord.log_level",
		"discord.webhook_server.log_level",
		"llm.log_level",
	} {
		logLevelVar, err := levelStringToLevelVar(viper.GetString(key))
		if err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
		viper.Set(key, logLevelVar)
	}
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&envFile,
		"env-file",
		"",
		"Env file to load before reading the environment",
	)
}
