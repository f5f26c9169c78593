package core

import (
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	ServerConfig struct {
		Host               string
		Address            string
		DebugHost          string
		ShutdownTimeout    time.Duration
		JWTExpirationDelta time.Duration
	}

	DatabaseConfig struct {
		Engine        string // postgres | inmem
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	CalendarConfig struct {
		Provider               string
		APIBaseURL             string
		APIToken               string
		WebhookSigningKey      string
		SignatureTolerance     time.Duration // 0 disables the replay window
		RequestTimeout         time.Duration
		RequestRetries         int
		PageSize               int
		SyncInterval           time.Duration // 0 disables the scheduler
		SyncLookBehind         time.Duration
		SyncLookAhead          time.Duration
		MaxSyncErrors          int
		ReconcileCancellations bool
	}

	Config struct {
		Env          string
		Build        string
		Debug        bool
		TestMode     bool
		AppName      string
		SecretKey    string
		RollbarToken string
		WorkDir      string

		Server   ServerConfig
		Database DatabaseConfig
		Calendar CalendarConfig
	}
)

func (dbc DatabaseConfig) Address() string {
	return net.JoinHostPort(dbc.Host, dbc.Port)
}

func (dbc DatabaseConfig) InMemory() bool {
	return dbc.Engine == "inmem"
}

// NewConfig loads the configuration of the current ENV: DEV (local; default), TEST, QA, PROD.
func NewConfig() *Config {
	conf := viper.New()

	// defaults
	conf.SetTypeByDefaultValue(true)
	conf.SetDefault("debug", true)
	conf.SetDefault("testMode", false)
	conf.SetDefault("appName", "CalSync")
	conf.SetDefault("build", "develop")
	conf.SetDefault("secretKey", "poq5-wer)enb$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy")
	conf.SetDefault("rollbarToken", "")

	conf.SetDefault("server.host", "localhost")
	conf.SetDefault("server.address", ":8000")
	conf.SetDefault("server.debugHost", ":4000")
	conf.SetDefault("server.shutdownTimeout", 5*time.Second)
	conf.SetDefault("server.jwtExpirationDelta", 7*24*time.Hour)

	conf.SetDefault("database.engine", "postgres")
	conf.SetDefault("database.host", "localhost")
	conf.SetDefault("database.port", "5432")
	conf.SetDefault("database.name", "calsync")
	conf.SetDefault("database.user", "calsync")
	conf.SetDefault("database.password", "calsync")
	conf.SetDefault("database.adminUser", "postgres")
	conf.SetDefault("database.adminPassword", "postgres")
	conf.SetDefault("database.disableTLS", true)

	conf.SetDefault("calendar.provider", "calendly")
	conf.SetDefault("calendar.apiBaseURL", "https://api.calendly.com")
	conf.SetDefault("calendar.apiToken", "")
	conf.SetDefault("calendar.webhookSigningKey", "")
	conf.SetDefault("calendar.signatureTolerance", 3*time.Minute)
	conf.SetDefault("calendar.requestTimeout", 15*time.Second)
	conf.SetDefault("calendar.requestRetries", 3)
	conf.SetDefault("calendar.pageSize", 100)
	conf.SetDefault("calendar.syncInterval", time.Hour)
	conf.SetDefault("calendar.syncLookBehind", 24*time.Hour)
	conf.SetDefault("calendar.syncLookAhead", 7*24*time.Hour)
	conf.SetDefault("calendar.maxSyncErrors", 20)
	conf.SetDefault("calendar.reconcileCancellations", true)

	env := strings.ToUpper(os.Getenv("ENV"))
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		conf.SetDefault("testMode", true)
		conf.SetDefault("database.engine", "inmem")
		conf.SetDefault("calendar.syncInterval", time.Duration(0))
	case "QA", "PROD":
		conf.SetDefault("debug", false)
	}
	conf.SetEnvPrefix(env)
	conf.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	wd := Getwd()
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	conf.AutomaticEnv()

	return &Config{
		Env:          env,
		Build:        conf.GetString("build"),
		Debug:        conf.GetBool("debug"),
		TestMode:     conf.GetBool("testMode"),
		AppName:      conf.GetString("appName"),
		SecretKey:    conf.GetString("secretKey"),
		RollbarToken: conf.GetString("rollbarToken"),
		WorkDir:      wd,
		Server: ServerConfig{
			Host:               conf.GetString("server.host"),
			Address:            conf.GetString("server.address"),
			DebugHost:          conf.GetString("server.debugHost"),
			ShutdownTimeout:    conf.GetDuration("server.shutdownTimeout"),
			JWTExpirationDelta: conf.GetDuration("server.jwtExpirationDelta"),
		},
		Database: DatabaseConfig{
			Engine:        conf.GetString("database.engine"),
			Host:          conf.GetString("database.host"),
			Port:          conf.GetString("database.port"),
			Name:          conf.GetString("database.name"),
			User:          conf.GetString("database.user"),
			Password:      conf.GetString("database.password"),
			AdminUser:     conf.GetString("database.adminUser"),
			AdminPassword: conf.GetString("database.adminPassword"),
			DisableTLS:    conf.GetBool("database.disableTLS"),
		},
		Calendar: CalendarConfig{
			Provider:               strings.ToLower(conf.GetString("calendar.provider")),
			APIBaseURL:             strings.TrimRight(conf.GetString("calendar.apiBaseURL"), "/"),
			APIToken:               conf.GetString("calendar.apiToken"),
			WebhookSigningKey:      conf.GetString("calendar.webhookSigningKey"),
			SignatureTolerance:     conf.GetDuration("calendar.signatureTolerance"),
			RequestTimeout:         conf.GetDuration("calendar.requestTimeout"),
			RequestRetries:         conf.GetInt("calendar.requestRetries"),
			PageSize:               conf.GetInt("calendar.pageSize"),
			SyncInterval:           conf.GetDuration("calendar.syncInterval"),
			SyncLookBehind:         conf.GetDuration("calendar.syncLookBehind"),
			SyncLookAhead:          conf.GetDuration("calendar.syncLookAhead"),
			MaxSyncErrors:          conf.GetInt("calendar.maxSyncErrors"),
			ReconcileCancellations: conf.GetBool("calendar.reconcileCancellations"),
		},
	}
}
