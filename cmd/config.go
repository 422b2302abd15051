package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	configBaseName   = "llm-verdict"
	configFileName   = configBaseName + ".yaml"
	configFolderPath = "."

	envPrefix = "LLM_VERDICT"

	providerBaseURLKey   = "provider.base_url"
	providerAPIKeyKey    = "provider.api_key"
	providerTimeoutKey   = "provider.timeout"
	providerMaxTokensKey = "provider.max_tokens"
	providerRateLimitKey = "provider.rate_limit"
	providerEndpointsKey = "provider.endpoints"

	graderModelKey = "grader.model"

	storeDriverKey = "store.driver"
	storePathKey   = "store.path"
	storeDSNKey    = "store.dsn"

	redisURLKey     = "redis.url"
	redisTTLKey     = "redis.ttl"
	redisChannelKey = "redis.channel"

	kserveEnabledKey    = "kserve.enabled"
	kserveNamespaceKey  = "kserve.namespace"
	kserveKubeconfigKey = "kserve.kubeconfig"
	kserveInClusterKey  = "kserve.in_cluster"

	httpAddrKey        = "http.addr"
	mcpEnabledKey      = "mcp.enabled"
	mcpTransportKey    = "mcp.transport"
	mcpEndpointKey     = "mcp.endpoint"
	mcpDefinitionsKey  = "mcp.definitions_dir"
	shutdownTimeoutKey = "shutdown.timeout"

	oauthEnabledKey   = "oauth.enabled"
	oauthBaseURLKey   = "oauth.base_url"
	oauthProviderKey  = "oauth.provider"
	oauthDexIssuerKey = "oauth.dex_issuer_url"
	oauthDexClientKey = "oauth.dex_client_id"
	oauthDexSecretKey = "oauth.dex_client_secret"

	logFilenameKey   = "log.filename"
	logLevelKey      = "log.level"
	logMaxSizeKey    = "log.max_size"
	logMaxBackupsKey = "log.max_backups"
	logMaxAgeKey     = "log.max_age"
	logCompressKey   = "log.compress"

	storeDriverMemory   = "memory"
	storeDriverBadger   = "badger"
	storeDriverPostgres = "postgres"

	defaultProviderTimeout = 2 * time.Minute
	defaultKServeNamespace = "llm-verdict"
	defaultHTTPAddr        = ":8080"
	defaultShutdownTimeout = 30 * time.Second
	defaultRedisTTL        = 24 * time.Hour

	defaultLogMaxSize    = 10
	defaultLogMaxBackups = 3
	defaultLogMaxAge     = 28
)

func init() {
	viper.SetConfigName(configBaseName)
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configFolderPath)
	viper.AutomaticEnv()
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	viper.SetDefault(providerTimeoutKey, defaultProviderTimeout)
	viper.SetDefault(graderModelKey, "")
	viper.SetDefault(storeDriverKey, storeDriverMemory)
	viper.SetDefault(storePathKey, "")
	viper.SetDefault(kserveEnabledKey, false)
	viper.SetDefault(kserveNamespaceKey, defaultKServeNamespace)
	viper.SetDefault(httpAddrKey, defaultHTTPAddr)
	viper.SetDefault(mcpEnabledKey, true)
	viper.SetDefault(mcpTransportKey, transportStreamableHTTP)
	viper.SetDefault(shutdownTimeoutKey, defaultShutdownTimeout)
	viper.SetDefault(redisTTLKey, defaultRedisTTL)
	viper.SetDefault(oauthProviderKey, "dex")

	viper.SetDefault(logLevelKey, "info")
	viper.SetDefault(logMaxSizeKey, defaultLogMaxSize)
	viper.SetDefault(logMaxBackupsKey, defaultLogMaxBackups)
	viper.SetDefault(logMaxAgeKey, defaultLogMaxAge)
	viper.SetDefault(logCompressKey, true)
}

// initConfig reads the config file. A missing default file is not an error;
// a missing explicit file is.
func initConfig(configPath string) error {
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigFile(filepath.Join(configFolderPath, configFileName))
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		if configPath == "" && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

// firstNonEmpty returns the first configured value, then the first set env var.
func firstNonEmpty(value string, envVars ...string) string {
	if value != "" {
		return value
	}
	for _, name := range envVars {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

func parseSlogLevel(value string, defaultLevel slog.Level) slog.Level {
	level := strings.ToLower(strings.TrimSpace(value))
	if level == "" {
		return defaultLevel
	}

	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}

	if n, err := strconv.Atoi(level); err == nil {
		return slog.Level(n)
	}

	return defaultLevel
}

// configureLogger installs the default slog logger. Logs go to stderr unless a
// log file is configured, in which case they are rotated by lumberjack.
func configureLogger(logPath string, verbose bool) {
	if strings.TrimSpace(logPath) == "" {
		logPath = viper.GetString(logFilenameKey)
	}

	level := parseSlogLevel(viper.GetString(logLevelKey), slog.LevelInfo)
	if verbose {
		level = slog.LevelDebug
	}

	var w io.Writer = os.Stderr
	if strings.TrimSpace(logPath) != "" {
		w = &lumberjack.Logger{
			Filename:   logPath,
			MaxSize:    viper.GetInt(logMaxSizeKey),
			MaxBackups: viper.GetInt(logMaxBackupsKey),
			MaxAge:     viper.GetInt(logMaxAgeKey),
			Compress:   viper.GetBool(logCompressKey),
		}
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	})))
}

// bindFlag makes an explicitly set flag override key.
func bindFlag(flag *pflag.Flag, key string) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}

// bindFlags binds the flags of the executing command. Binding at run time
// lets several subcommands share a key through flags of the same name.
func bindFlags(cmd *cobra.Command, flagsToKeys map[string]string) error {
	for name, key := range flagsToKeys {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			return fmt.Errorf("unknown flag %q", name)
		}
		if err := viper.BindPFlag(key, flag); err != nil {
			return err
		}
	}
	return nil
}
