package main

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config is loaded from config.env in the working directory and the
// environment, the environment taking precedence.
type Config struct {
	Port                string `mapstructure:"PORT"`
	Directory           string `mapstructure:"DIRECTORY"`
	BaseHref            string `mapstructure:"BASE_HREF"`
	JWTSecret           string `mapstructure:"JWT_SECRET"`
	CSRFKey             string `mapstructure:"CSRF_KEY"`
	StripeSecretKey     string `mapstructure:"STRIPE_SECRET_KEY"`
	StripeClientID      string `mapstructure:"STRIPE_CLIENT_ID"`
	StripeWebhookSecret string `mapstructure:"STRIPE_WEBHOOK_SECRET"`
	PublicKey           string `mapstructure:"PUBLIC_KEY"`
	PrivateKey          string `mapstructure:"PRIVATE_KEY"`
	MinimumCommission   int64  `mapstructure:"MINIMUM_COMMISSION"`
	AdminEmail          string `mapstructure:"ADMIN_EMAIL"`
	SMTPHost            string `mapstructure:"SMTP_HOST"`
	SMTPPort            int    `mapstructure:"SMTP_PORT"`
	SMTPUser            string `mapstructure:"SMTP_USER"`
	SMTPPassword        string `mapstructure:"SMTP_PASSWORD"`
	MailFrom            string `mapstructure:"MAIL_FROM"`
	Converter           string `mapstructure:"CONVERTER"`
	LicenseTemplate     string `mapstructure:"LICENSE_TEMPLATE"`
	AgentName           string `mapstructure:"AGENT_NAME"`
	AgentLocation       string `mapstructure:"AGENT_LOCATION"`
	Production          bool   `mapstructure:"PRODUCTION"`
	CORSOrigins         string `mapstructure:"CORS_ORIGINS"`
}

var defaults = map[string]any{
	"PORT":                  "8080",
	"DIRECTORY":             "./data",
	"BASE_HREF":             "",
	"JWT_SECRET":            "",
	"CSRF_KEY":              "",
	"STRIPE_SECRET_KEY":     "",
	"STRIPE_CLIENT_ID":      "",
	"STRIPE_WEBHOOK_SECRET": "",
	"PUBLIC_KEY":            "",
	"PRIVATE_KEY":           "",
	"MINIMUM_COMMISSION":    5,
	"ADMIN_EMAIL":           "",
	"SMTP_HOST":             "",
	"SMTP_PORT":             587,
	"SMTP_USER":             "",
	"SMTP_PASSWORD":         "",
	"MAIL_FROM":             "",
	"CONVERTER":             "pandoc",
	"LICENSE_TEMPLATE":      "",
	"AGENT_NAME":            "License Market",
	"AGENT_LOCATION":        "US-CA",
	"PRODUCTION":            false,
	"CORS_ORIGINS":          "*",
}

var required = []string{
	"BASE_HREF",
	"JWT_SECRET",
	"CSRF_KEY",
	"STRIPE_SECRET_KEY",
	"STRIPE_CLIENT_ID",
	"STRIPE_WEBHOOK_SECRET",
	"PUBLIC_KEY",
	"PRIVATE_KEY",
}

// loadConfig reads config.env. A missing file is fine; the environment
// alone can configure the server.
func loadConfig(v *viper.Viper) (config Config, err error) {
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.SetConfigType("env")
	v.AutomaticEnv()
	// AutomaticEnv only reaches keys viper already knows.
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return
		}
		err = nil
	}

	err = v.Unmarshal(&config)
	return
}

// missing lists the required keys with no value.
func missing(v *viper.Viper) []string {
	var names []string
	for _, key := range required {
		if strings.TrimSpace(v.GetString(key)) == "" {
			names = append(names, key)
		}
	}
	return names
}

func (c Config) Origins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

// watchConfig re-reads settings that can change while running when
// config.env is edited.
func watchConfig(v *viper.Viper, logger *slog.Logger, setAdmin func(string)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		logger.Info("config file changed", "file", e.Name, "op", e.Op.String())
		setAdmin(v.GetString("ADMIN_EMAIL"))
	})
	v.WatchConfig()
}
