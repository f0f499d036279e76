package config

import (
	"log/slog"
	"time"

	"github.com/fabian4/peaudiosys-gateway/internal/model"
)

const (
	DefaultListen         = ":8080"
	DefaultPath           = "/"
	DefaultServiceName    = "default"
	DefaultConnectTimeout = 100 * time.Millisecond
	DefaultReadTimeout    = 500 * time.Millisecond
	DefaultExchange       = 5 * time.Second
	DefaultHTTPRead       = 10 * time.Second
	DefaultHTTPWrite      = 10 * time.Second
	DefaultMetricsPath    = "/metrics"
	HealthPath            = "/healthz"
)

type Config struct {
	Listen         string
	Path           string // gateway mount path
	DefaultService string
	Services       map[string]model.Service
	Routes         []model.Rule // declaration order, never sorted
	Timeouts       Timeouts
	Response       Response
	Log            Log
	AccessLog      AccessLogConfig
	Metrics        Metrics
}

type Timeouts struct {
	Session   model.Timeouts // global connect/read
	Exchange  time.Duration  // overall cap for one backend session
	HTTPRead  time.Duration
	HTTPWrite time.Duration
}

type Response struct {
	StrictStatus bool   // map failures to 4xx/5xx instead of 200
	FailureBody  string // written instead of an empty body on failure
}

type Log struct {
	Level   slog.Level
	Format  string // "text" | "json"
	Verbose int    // 0 off, 1 commands + truncated replies, 2 full replies
}

type AccessLogConfig struct {
	Enabled  bool
	Path     string // empty => stdout
	Sampling float64
	Fields   []string // empty => all
}

type Metrics struct {
	Enabled bool
	Path    string
}
