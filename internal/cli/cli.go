// Package cli реализует командную строку citydist поверх клиента сервиса расстояний.
package cli

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	citydistance "gitlab.citydrive.tech/back-end/go/pkg/citydistance-client"
)

const (
	appName   = "citydist"
	envPrefix = "CITYDIST"
)

// Ключи конфигурации; совпадают с именами переменных окружения без префикса.
const (
	keyBaseURL  = "base_url"
	keyUsername = "username"
	keyPassword = "password"
	keyTimeout  = "timeout"
	keyRetries  = "retries"
	keyVerbose  = "verbose"
	keyOutput   = "output"
)

// Форматы вывода.
const (
	OutputText = "text"
	OutputJSON = "json"
)

// ErrUnhealthy возвращается командой health, если сервис недоступен.
var ErrUnhealthy = errors.New("service is unhealthy")

// version версия утилиты, задаётся через ldflags.
var version = "dev"

// CLI общее состояние команд.
type CLI struct {
	out    io.Writer
	errOut io.Writer
	v      *viper.Viper
	logger *zap.Logger

	// transport подменяет HTTP транспорт клиента (для тестов)
	transport http.RoundTripper
}

// New создаёт CLI, пишущий результат в out, а логи в errOut.
func New(out, errOut io.Writer) *CLI {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	return &CLI{
		out:    out,
		errOut: errOut,
		v:      v,
		logger: zap.NewNop(),
	}
}

// RootCommand создаёт корневую команду со всеми подкомандами.
func (c *CLI) RootCommand() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:           appName,
		Short:         "Client for the city distance service",
		Long:          `citydist calls the city distance service: city suggestions, distance between two cities, health and version.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if configFile != "" {
				c.v.SetConfigFile(configFile)
				if err := c.v.ReadInConfig(); err != nil {
					return fmt.Errorf("read config %s: %w", configFile, err)
				}
			}

			switch out := c.v.GetString(keyOutput); out {
			case OutputText, OutputJSON:
			default:
				return fmt.Errorf("unknown output format %q", out)
			}

			c.logger = newLogger(c.errOut, c.v.GetBool(keyVerbose))
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "path to YAML config file")
	flags.String("base-url", "", "service base URL (env CITYDIST_BASE_URL)")
	flags.String("username", "", "basic auth username (env CITYDIST_USERNAME)")
	flags.String("password", "", "basic auth password (env CITYDIST_PASSWORD)")
	flags.Duration("timeout", citydistance.DefaultTimeout, "timeout of a single attempt")
	flags.Int("retries", citydistance.DefaultMaxRetries, "retries after the first attempt")
	flags.BoolP("verbose", "v", false, "enable debug logging")
	flags.StringP("output", "o", OutputText, "output format: text or json")

	for key, flag := range map[string]string{
		keyBaseURL:  "base-url",
		keyUsername: "username",
		keyPassword: "password",
		keyTimeout:  "timeout",
		keyRetries:  "retries",
		keyVerbose:  "verbose",
		keyOutput:   "output",
	} {
		_ = c.v.BindPFlag(key, flags.Lookup(flag))
	}

	root.AddCommand(c.suggestCommand())
	root.AddCommand(c.distanceCommand())
	root.AddCommand(c.healthCommand())
	root.AddCommand(c.versionCommand())

	return root
}

// newClient создаёт клиент сервиса по текущей конфигурации
func (c *CLI) newClient() (*citydistance.Client, error) {
	metricsOff := false
	return citydistance.New(citydistance.Config{
		BaseURL:        c.v.GetString(keyBaseURL),
		Username:       c.v.GetString(keyUsername),
		Password:       c.v.GetString(keyPassword),
		Timeout:        c.v.GetDuration(keyTimeout),
		MaxRetries:     citydistance.IntPtr(c.v.GetInt(keyRetries)),
		Transport:      c.transport,
		Logger:         c.logger,
		MetricsEnabled: &metricsOff,
	})
}

func (c *CLI) jsonOutput() bool {
	return c.v.GetString(keyOutput) == OutputJSON
}

// newLogger пишет логи в консольном формате: debug с --verbose, иначе warn
func newLogger(w io.Writer, verbose bool) *zap.Logger {
	level := zapcore.WarnLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout(time.TimeOnly)

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(w), level)
	return zap.New(core).Named(appName)
}
