package cli

import (
	"os"
	"strings"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/telekom/lessonplan-mailer/pkg/config"
)

// Options are the flags of the serve command. Every flag falls back to an
// environment variable so containers can be configured without arguments.
type Options struct {
	Debug bool

	// Configuration sources
	ConfigPath string
	EnvFile    string

	// Overrides applied on top of the loaded configuration
	ListenAddress string
	Transport     string
	StorageDir    string

	// RecoverOnly loads stored messages, runs one drain cycle and exits.
	RecoverOnly bool
}

// BindFlags registers the serve flags on fs.
func (o *Options) BindFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&o.Debug, "debug", getEnvBool("MAILER_DEBUG", false), "Enable debug level logging")
	fs.StringVar(&o.ConfigPath, "config-path", "",
		"Path to the mailer configuration file (default $LESSONPLAN_CONFIG_PATH or "+config.DefaultConfigPath+")")
	fs.StringVar(&o.EnvFile, "env-file", getEnvString("MAILER_ENV_FILE", ".env"),
		"Optional dotenv file loaded before the configuration; missing files are ignored")
	fs.StringVar(&o.ListenAddress, "listen-address", getEnvString("MAILER_LISTEN_ADDRESS", ""),
		"Address of the HTTP API (overrides server.listenAddress)")
	fs.StringVar(&o.Transport, "transport", getEnvString("MAILER_TRANSPORT", ""),
		"Mail transport, smtp or ses (overrides mail.transport)")
	fs.StringVar(&o.StorageDir, "storage-dir", getEnvString("MAILER_STORAGE_DIR", ""),
		"Base directory of the file storage; queue/ and bad/ are created below it")
	fs.BoolVar(&o.RecoverOnly, "recover-only", getEnvBool("MAILER_RECOVER_ONLY", false),
		"Deliver messages left in storage once and exit without serving the API")
}

// Apply writes the overrides into cfg.
func (o *Options) Apply(cfg *config.Config) {
	if o.ListenAddress != "" {
		cfg.Server.ListenAddress = o.ListenAddress
	}
	if o.Transport != "" {
		cfg.Mail.Transport = strings.ToLower(o.Transport)
	}
	if o.StorageDir != "" {
		dir := strings.TrimRight(o.StorageDir, "/")
		cfg.Storage.QueueDir = dir + "/queue"
		cfg.Storage.BadDir = dir + "/bad"
	}
}

func (o *Options) Print(log *zap.SugaredLogger) {
	log.Infow("CLI Configuration",
		"debug", o.Debug,
		"config_path", o.ConfigPath,
		"env_file", o.EnvFile,
		"listen_address", o.ListenAddress,
		"transport", o.Transport,
		"storage_dir", o.StorageDir,
		"recover_only", o.RecoverOnly,
	)
}

// getEnvString returns the value of an environment variable, or the provided default if not set.
func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvBool returns the value of an environment variable as a bool, or the provided default if not set.
// Valid true values are "true", "1", "yes" (case-insensitive).
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(val) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultVal
}
