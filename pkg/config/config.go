package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"github.com/telekom/lessonplan-mailer/pkg/dkim"
)

// DefaultConfigPath is used when no path is given and LESSONPLAN_CONFIG_PATH is unset.
const DefaultConfigPath = "./config.yaml"

// Transports and storage backends understood by the mailer.
const (
	TransportSMTP = "smtp"
	TransportSES  = "ses"

	StorageFile     = "file"
	StoragePostgres = "postgres"
)

type Server struct {
	ListenAddress  string   `yaml:"listenAddress"`
	TLSCertFile    string   `yaml:"tlsCertFile"`
	TLSKeyFile     string   `yaml:"tlsKeyFile"`
	TrustedProxies []string `yaml:"trustedProxies"` // IPs/CIDRs to trust for X-Forwarded-For
	AllowedOrigins []string `yaml:"allowedOrigins"`
	// ShutdownTimeout bounds graceful shutdown of the HTTP server and the dispatcher (e.g. "15s").
	ShutdownTimeout string `yaml:"shutdownTimeout"`
}

type SMTP struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	SSL                bool   `yaml:"ssl"`
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify"`
	LocalName          string `yaml:"localName"`
}

type SES struct {
	Region           string `yaml:"region"`
	AccessKeyID      string `yaml:"accessKeyID"`
	SecretAccessKey  string `yaml:"secretAccessKey"`
	ConfigurationSet string `yaml:"configurationSet"`
}

type Mail struct {
	// Transport is "smtp" (default) or "ses".
	Transport   string `yaml:"transport"`
	FromAddress string `yaml:"fromAddress"`
	FromName    string `yaml:"fromName"`
	MaxRetries  int    `yaml:"maxRetries"`
	// Durations are Go duration strings, e.g. "5m".
	PauseAfterError      string      `yaml:"pauseAfterError"`
	DelayBetweenMessages string      `yaml:"delayBetweenMessages"`
	DrainInterval        string      `yaml:"drainInterval"`
	SMTP                 SMTP        `yaml:"smtp"`
	SES                  SES         `yaml:"ses"`
	DKIM                 dkim.Config `yaml:"dkim"`
}

type Storage struct {
	// Backend is "file" (default) or "postgres".
	Backend     string `yaml:"backend"`
	QueueDir    string `yaml:"queueDir"`
	BadDir      string `yaml:"badDir"`
	PostgresDSN string `yaml:"postgresDSN"`
}

type KafkaSASL struct {
	Mechanism string `yaml:"mechanism"` // PLAIN, SCRAM-SHA-256 or SCRAM-SHA-512
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

type Kafka struct {
	Enabled            bool       `yaml:"enabled"`
	Brokers            []string   `yaml:"brokers"`
	Topic              string     `yaml:"topic"`
	TLS                bool       `yaml:"tls"`
	InsecureSkipVerify bool       `yaml:"insecureSkipVerify"`
	CAFile             string     `yaml:"caFile"`
	SASL               *KafkaSASL `yaml:"sasl"`
	Compression        string     `yaml:"compression"`
}

type Audit struct {
	Enabled     bool  `yaml:"enabled"`
	QueueSize   int   `yaml:"queueSize"`
	WorkerCount int   `yaml:"workerCount"`
	Kafka       Kafka `yaml:"kafka"`
}

type RateLimit struct {
	// Rate is the number of enqueue requests per second allowed per client IP.
	Rate  float64 `yaml:"rate"`
	Burst int     `yaml:"burst"`
}

type Config struct {
	Server    Server    `yaml:"server"`
	Mail      Mail      `yaml:"mail"`
	Storage   Storage   `yaml:"storage"`
	Audit     Audit     `yaml:"audit"`
	RateLimit RateLimit `yaml:"rateLimit"`
}

// Default returns a configuration that runs a file-backed SMTP mailer against
// a relay on localhost.
func Default() Config {
	return Config{
		Server: Server{
			ListenAddress:   ":8080",
			ShutdownTimeout: "15s",
		},
		Mail: Mail{
			Transport:            TransportSMTP,
			FromName:             "Lesson Planner",
			MaxRetries:           3,
			PauseAfterError:      "5m",
			DelayBetweenMessages: "0s",
			DrainInterval:        "30s",
			SMTP: SMTP{
				Host: "localhost",
				Port: 587,
			},
		},
		Storage: Storage{
			Backend:  StorageFile,
			QueueDir: "./data/mail/queue",
			BadDir:   "./data/mail/bad",
		},
		Audit: Audit{
			Enabled:     true,
			QueueSize:   10000,
			WorkerCount: 2,
		},
		RateLimit: RateLimit{
			Rate:  20,
			Burst: 50,
		},
	}
}

// Load reads the configuration file on top of Default and applies environment
// overrides. If configPath is empty, LESSONPLAN_CONFIG_PATH or ./config.yaml is
// used; a missing default file is not an error so the mailer can be configured
// from the environment alone.
func Load(configPath ...string) (Config, error) {
	path := ""
	explicit := false
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
		explicit = true
	} else if p := os.Getenv("LESSONPLAN_CONFIG_PATH"); p != "" {
		path = p
		explicit = true
	} else {
		path = DefaultConfigPath
	}

	config := Default()

	content, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(content, &config); err != nil {
			return config, fmt.Errorf("error unmarshaling YAML %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return config, fmt.Errorf("trying to open mailer config file %s: %w", path, err)
	}

	if err := config.applyEnv(); err != nil {
		return config, err
	}
	return config, nil
}

// LoadDotEnv loads variables from a .env file into the process environment.
// Variables that are already set win. A missing file is ignored.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.Server.ListenAddress, "SERVER_LISTEN_ADDRESS")
	setString(&c.Server.TLSCertFile, "SERVER_TLS_CERT_FILE")
	setString(&c.Server.TLSKeyFile, "SERVER_TLS_KEY_FILE")
	setList(&c.Server.AllowedOrigins, "SERVER_ALLOWED_ORIGINS")

	setString(&c.Mail.Transport, "MAIL_TRANSPORT")
	setString(&c.Mail.FromAddress, "MAIL_FROM_ADDRESS")
	setString(&c.Mail.FromName, "MAIL_FROM_NAME")
	setString(&c.Mail.PauseAfterError, "MAIL_PAUSE_AFTER_ERROR")
	setString(&c.Mail.DelayBetweenMessages, "MAIL_DELAY_BETWEEN_MESSAGES")
	setString(&c.Mail.DrainInterval, "MAIL_DRAIN_INTERVAL")
	setString(&c.Mail.SMTP.Host, "SMTP_HOST")
	setString(&c.Mail.SMTP.Username, "SMTP_USERNAME")
	setString(&c.Mail.SMTP.Password, "SMTP_PASSWORD")
	setString(&c.Mail.SES.Region, "SES_REGION")
	setString(&c.Mail.SES.AccessKeyID, "SES_ACCESS_KEY_ID")
	setString(&c.Mail.SES.SecretAccessKey, "SES_SECRET_ACCESS_KEY")
	setString(&c.Mail.SES.ConfigurationSet, "SES_CONFIGURATION_SET")
	setString(&c.Mail.DKIM.Selector, "DKIM_SELECTOR")
	setString(&c.Mail.DKIM.Domain, "DKIM_DOMAIN")
	setString(&c.Mail.DKIM.PrivateKeyPath, "DKIM_PRIVATE_KEY_PATH")

	setString(&c.Storage.Backend, "STORAGE_BACKEND")
	setString(&c.Storage.QueueDir, "STORAGE_QUEUE_DIR")
	setString(&c.Storage.BadDir, "STORAGE_BAD_DIR")
	setString(&c.Storage.PostgresDSN, "STORAGE_POSTGRES_DSN")

	setList(&c.Audit.Kafka.Brokers, "AUDIT_KAFKA_BROKERS")
	setString(&c.Audit.Kafka.Topic, "AUDIT_KAFKA_TOPIC")

	if err := setInt(&c.Mail.MaxRetries, "MAIL_MAX_RETRIES"); err != nil {
		return err
	}
	if err := setInt(&c.Mail.SMTP.Port, "SMTP_PORT"); err != nil {
		return err
	}
	if err := setBool(&c.Mail.SMTP.SSL, "SMTP_SSL"); err != nil {
		return err
	}
	if err := setBool(&c.Mail.SMTP.InsecureSkipVerify, "SMTP_INSECURE_SKIP_VERIFY"); err != nil {
		return err
	}
	if err := setBool(&c.Audit.Enabled, "AUDIT_ENABLED"); err != nil {
		return err
	}
	return setBool(&c.Audit.Kafka.Enabled, "AUDIT_KAFKA_ENABLED")
}

// Validate reports every problem found, joined into one error.
func (c Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.Mail.Transport) {
	case TransportSMTP:
		if c.Mail.SMTP.Host == "" {
			errs = append(errs, errors.New("mail.smtp.host is required"))
		}
		if c.Mail.SMTP.Port <= 0 || c.Mail.SMTP.Port > 65535 {
			errs = append(errs, fmt.Errorf("mail.smtp.port %d is out of range", c.Mail.SMTP.Port))
		}
	case TransportSES:
	default:
		errs = append(errs, fmt.Errorf("unknown mail.transport %q", c.Mail.Transport))
	}
	if strings.TrimSpace(c.Mail.FromAddress) == "" {
		errs = append(errs, errors.New("mail.fromAddress is required"))
	}
	if c.Mail.MaxRetries < 1 {
		errs = append(errs, errors.New("mail.maxRetries must be at least 1"))
	}
	for name, v := range map[string]string{
		"mail.pauseAfterError":      c.Mail.PauseAfterError,
		"mail.delayBetweenMessages": c.Mail.DelayBetweenMessages,
		"mail.drainInterval":        c.Mail.DrainInterval,
		"server.shutdownTimeout":    c.Server.ShutdownTimeout,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	switch strings.ToLower(c.Storage.Backend) {
	case StorageFile:
		if c.Storage.QueueDir == "" || c.Storage.BadDir == "" {
			errs = append(errs, errors.New("storage.queueDir and storage.badDir are required"))
		}
	case StoragePostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgresDSN is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q", c.Storage.Backend))
	}

	if c.Audit.Kafka.Enabled {
		if len(c.Audit.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("audit.kafka.brokers is required when kafka is enabled"))
		}
		if c.Audit.Kafka.Topic == "" {
			errs = append(errs, errors.New("audit.kafka.topic is required when kafka is enabled"))
		}
	}
	return errors.Join(errs...)
}

// PauseAfterErrorDuration returns the parsed pause window, 5m by default.
func (m Mail) PauseAfterErrorDuration(log *zap.SugaredLogger) time.Duration {
	return ParseDurationOrDefault(m.PauseAfterError, 5*time.Minute, "mail.pauseAfterError", log)
}

// DelayBetweenMessagesDuration returns the parsed inter-message delay. Zero
// disables pacing.
func (m Mail) DelayBetweenMessagesDuration() time.Duration {
	d, err := time.ParseDuration(m.DelayBetweenMessages)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// DrainIntervalDuration returns the parsed dispatcher tick, 30s by default.
func (m Mail) DrainIntervalDuration(log *zap.SugaredLogger) time.Duration {
	return ParseDurationOrDefault(m.DrainInterval, 30*time.Second, "mail.drainInterval", log)
}

// ShutdownTimeoutDuration returns the parsed shutdown timeout, 15s by default.
func (s Server) ShutdownTimeoutDuration(log *zap.SugaredLogger) time.Duration {
	return ParseDurationOrDefault(s.ShutdownTimeout, 15*time.Second, "server.shutdownTimeout", log)
}

// ParseDurationOrDefault parses value, falling back to defaultValue when it is
// empty, invalid or not positive. If log is nil, no warning is logged.
func ParseDurationOrDefault(value string, defaultValue time.Duration, fieldName string, log *zap.SugaredLogger) time.Duration {
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		if log != nil {
			log.Warnw("Invalid "+fieldName+"; falling back to default",
				"value", value,
				"error", err,
				"default", defaultValue.String())
		}
		return defaultValue
	}
	if d <= 0 {
		if log != nil {
			log.Warnw("Non-positive "+fieldName+"; falling back to default",
				"value", value,
				"default", defaultValue.String())
		}
		return defaultValue
	}
	return d
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setList(dst *[]string, key string) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	*dst = out
}

func setInt(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}
