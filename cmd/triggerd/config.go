package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/w1xm/ecam_trigger/trigger"
)

// Config is read from TRIGGER_* environment variables, optionally from a
// .env file, and then overridden by flags.
type Config struct {
	Addr     string
	Registry string

	Controller      string
	DefaultMotor    string
	UseMasterOutput bool
	AuxOutputs      string
	Timeout         time.Duration
	PollInterval    time.Duration

	// Backend is icepap, serial, modbus or simulate.
	Backend    string
	SerialPort string
	Baud       int
	ModbusAddr string
	ModbusURL  string
	ModbusPass string

	InfluxServer string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	LogLevel string
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}

// LoadConfig reads the environment, then parses args over it.
func LoadConfig(args []string) (Config, error) {
	_ = godotenv.Load()
	def := trigger.DefaultConfig()

	var c Config
	fs := flag.NewFlagSet("triggerd", flag.ContinueOnError)
	fs.StringVar(&c.Addr, "addr", getEnv("TRIGGER_ADDR", "127.0.0.1:8503"), "address to listen on")
	fs.StringVar(&c.Registry, "registry", getEnv("TRIGGER_REGISTRY", "motors.yaml"), "motor registry file")
	fs.StringVar(&c.Controller, "controller", getEnv("TRIGGER_CONTROLLER", ""), "name of the device generating the triggers")
	fs.StringVar(&c.DefaultMotor, "default_motor", getEnv("TRIGGER_DEFAULT_MOTOR", ""), "motor used when none is given")
	fs.BoolVar(&c.UseMasterOutput, "use_master_output", getEnvAsBool("TRIGGER_USE_MASTER_OUTPUT", def.UseMasterOutput), "emit triggers on the multiplexed master line")
	fs.StringVar(&c.AuxOutputs, "aux_outputs", getEnv("TRIGGER_AUX_OUTPUTS", "InfoA"), "comma-separated axis outputs used without the master line")
	fs.DurationVar(&c.Timeout, "timeout", getEnvAsDuration("TRIGGER_TIMEOUT", def.Timeout), "device communication timeout")
	fs.DurationVar(&c.PollInterval, "poll_interval", getEnvAsDuration("TRIGGER_POLL_INTERVAL", time.Second), "state polling interval")
	fs.StringVar(&c.Backend, "backend", getEnv("TRIGGER_BACKEND", "icepap"), "device backend: icepap, serial, modbus or simulate")
	fs.StringVar(&c.SerialPort, "serial", getEnv("TRIGGER_SERIAL", ""), "serial port name")
	fs.IntVar(&c.Baud, "baud", getEnvAsInt("TRIGGER_BAUD", 19200), "serial baud rate")
	fs.StringVar(&c.ModbusAddr, "modbus_addr", getEnv("TRIGGER_MODBUS_ADDR", ""), "Modbus/TCP gateway address")
	fs.StringVar(&c.ModbusURL, "modbus_url", getEnv("TRIGGER_MODBUS_URL", ""), "modbus_server URL")
	fs.StringVar(&c.ModbusPass, "modbus_password", getEnv("TRIGGER_MODBUS_PASSWORD", ""), "modbus_server password")
	fs.StringVar(&c.InfluxServer, "influx_server", getEnv("TRIGGER_INFLUX_SERVER", ""), "InfluxDB server; empty disables state logging")
	fs.StringVar(&c.InfluxToken, "influx_token", getEnv("TRIGGER_INFLUX_TOKEN", ""), "InfluxDB token")
	fs.StringVar(&c.InfluxOrg, "influx_org", getEnv("TRIGGER_INFLUX_ORG", "w1xm"), "InfluxDB organization")
	fs.StringVar(&c.InfluxBucket, "influx_bucket", getEnv("TRIGGER_INFLUX_BUCKET", "trigger"), "InfluxDB bucket")
	fs.StringVar(&c.LogLevel, "log_level", getEnv("TRIGGER_LOG_LEVEL", "info"), "log level, or off")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	switch c.Backend {
	case "icepap", "serial", "modbus", "simulate":
	default:
		return Config{}, fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.DefaultMotor == "" {
		return Config{}, fmt.Errorf("a default motor is required")
	}
	if c.Timeout <= 0 || c.PollInterval <= 0 {
		return Config{}, fmt.Errorf("timeout and poll interval must be positive")
	}
	return c, nil
}

func (c Config) Trigger() trigger.Config {
	return trigger.Config{
		DeviceController: c.Controller,
		DefaultMotor:     c.DefaultMotor,
		UseMasterOutput:  c.UseMasterOutput,
		AuxOutputs:       trigger.ParseAuxOutputs(c.AuxOutputs),
		Timeout:          c.Timeout,
	}
}

// NewLogger builds the process logger for level.
func NewLogger(level string) *logrus.Logger {
	logger := logrus.New()
	if level == "off" || level == "none" {
		logger.SetOutput(io.Discard)
	} else {
		l, err := logrus.ParseLevel(level)
		if err != nil {
			l = logrus.InfoLevel
		}
		logger.SetLevel(l)
		logger.SetOutput(os.Stdout)
	}
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	return logger
}
