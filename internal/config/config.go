// Package config parses the server's startup parameters (port,
// trigger-mode, idle-timeout-ms, linger flag, DB host/port/user/
// password/db-name, DB-pool size, worker-thread count, log-open flag,
// log-level, log-queue-size) from CLI flags, with optional overrides
// from environment variables. No configuration file is read.
// Validation happens here, before the reactor is constructed.
package config

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// TriggerMode codifica el modo de disparo del poller: 0=LT/LT,
// 1=conn ET, 2=listen ET, 3=ambos ET.
type TriggerMode int

const (
	TriggerBothLevel  TriggerMode = 0
	TriggerConnEdge   TriggerMode = 1
	TriggerListenEdge TriggerMode = 2
	TriggerBothEdge   TriggerMode = 3
)

// Config agrupa todos los parámetros de arranque del servidor.
type Config struct {
	Port          int
	TriggerMode   TriggerMode
	IdleTimeoutMS int
	Linger        bool

	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBPoolSize int

	WorkerThreads int

	LogOpen      bool
	LogLevel     int
	LogQueueSize int

	ResourceRoot string
	MaxConns     int
	MetricsAddr  string
}

func defaults() Config {
	return Config{
		Port:          1316,
		TriggerMode:   TriggerBothEdge,
		IdleTimeoutMS: 60000,
		Linger:        false,
		DBHost:        "localhost",
		DBPort:        5432,
		DBUser:        "root",
		DBPassword:    "",
		DBName:        "webserver",
		DBPoolSize:    8,
		WorkerThreads: 6,
		LogOpen:       true,
		LogLevel:      1,
		LogQueueSize:  1024,
		ResourceRoot:  "./resources",
		MaxConns:      65536,
		MetricsAddr:   ":9100",
	}
}

// Validate aplica los límites de arranque: puerto 1024-65535 y
// trigger-mode 0-3.
func (c Config) Validate() error {
	if c.Port < 1024 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range [1024,65535]", c.Port)
	}
	if c.TriggerMode < TriggerBothLevel || c.TriggerMode > TriggerBothEdge {
		return fmt.Errorf("config: trigger-mode %d out of range [0,3]", c.TriggerMode)
	}
	if c.WorkerThreads <= 0 {
		return fmt.Errorf("config: worker-threads must be > 0")
	}
	if c.DBPoolSize <= 0 {
		return fmt.Errorf("config: db-pool-size must be > 0")
	}
	return nil
}

// BindFlags registra las banderas de arranque en cmd, respaldadas
// por viper para poder sobreescribirlas desde el entorno (prefijo
// REACTORWEB_); no se lee ningún archivo de configuración.
func BindFlags(cmd *cobra.Command) {
	d := defaults()
	flags := cmd.Flags()

	flags.Int("port", d.Port, "listen port (1024-65535)")
	flags.Int("trigger-mode", int(d.TriggerMode), "0=LT/LT 1=conn ET 2=listen ET 3=both ET")
	flags.Int("idle-timeout-ms", d.IdleTimeoutMS, "idle connection timeout in milliseconds")
	flags.Bool("linger", d.Linger, "enable SO_LINGER on close")

	flags.String("db-host", d.DBHost, "database host")
	flags.Int("db-port", d.DBPort, "database port")
	flags.String("db-user", d.DBUser, "database user")
	flags.String("db-password", d.DBPassword, "database password")
	flags.String("db-name", d.DBName, "database name")
	flags.Int("db-pool-size", d.DBPoolSize, "database connection pool size")

	flags.Int("worker-threads", d.WorkerThreads, "worker pool thread count")

	flags.Bool("log-open", d.LogOpen, "enable logging")
	flags.Int("log-level", d.LogLevel, "0=debug 1=info 2=warn 3=error")
	flags.Int("log-queue-size", d.LogQueueSize, "async log queue capacity")

	flags.String("resource-root", d.ResourceRoot, "static resource directory")
	flags.Int("max-conns", d.MaxConns, "hard cap on live connections")
	flags.String("metrics-addr", d.MetricsAddr, "address for the /metrics listener")

	_ = viper.BindPFlags(flags)
	viper.SetEnvPrefix("REACTORWEB")
	viper.AutomaticEnv()
}

// Load construye un Config a partir de viper (flags ya vinculadas por
// BindFlags, más variables de entorno) y lo valida.
func Load() (Config, error) {
	c := Config{
		Port:          viper.GetInt("port"),
		TriggerMode:   TriggerMode(viper.GetInt("trigger-mode")),
		IdleTimeoutMS: viper.GetInt("idle-timeout-ms"),
		Linger:        viper.GetBool("linger"),

		DBHost:     viper.GetString("db-host"),
		DBPort:     viper.GetInt("db-port"),
		DBUser:     viper.GetString("db-user"),
		DBPassword: viper.GetString("db-password"),
		DBName:     viper.GetString("db-name"),
		DBPoolSize: viper.GetInt("db-pool-size"),

		WorkerThreads: viper.GetInt("worker-threads"),

		LogOpen:      viper.GetBool("log-open"),
		LogLevel:     viper.GetInt("log-level"),
		LogQueueSize: viper.GetInt("log-queue-size"),

		ResourceRoot: viper.GetString("resource-root"),
		MaxConns:     viper.GetInt("max-conns"),
		MetricsAddr:  viper.GetString("metrics-addr"),
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
