package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fabian4/peaudiosys-gateway/internal/model"
)

type rawConfig struct {
	EntryPoint []struct {
		Name    string `yaml:"name"`
		Address string `yaml:"address"`
	} `yaml:"entrypoint"`
	Path           string       `yaml:"path"`
	DefaultService string       `yaml:"default_service"`
	Services       []rawService `yaml:"services" validate:"required,min=1,dive"`
	Routes         []rawRoute   `yaml:"routes" validate:"dive"`
	Timeouts       rawTimeouts  `yaml:"timeouts"`
	Response       rawResponse  `yaml:"response"`
	Log            rawLog       `yaml:"log"`
	AccessLog      rawAccessLog `yaml:"access_log"`
	Metrics        rawMetrics   `yaml:"metrics"`
}

type rawService struct {
	Name      string             `yaml:"name" validate:"required"`
	Address   string             `yaml:"address" validate:"required"`
	Port      int                `yaml:"port" validate:"required,min=1,max=65535"`
	Timeouts  rawSessionTimeouts `yaml:"timeouts"`
	RateLimit *rawRateLimit      `yaml:"rate_limit" validate:"omitempty"`
}

type rawRateLimit struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gt=0"`
	Burst             int     `yaml:"burst" validate:"min=1"`
}

type rawRoute struct {
	Name        string             `yaml:"name"`
	Prefix      string             `yaml:"prefix" validate:"required"`
	Service     string             `yaml:"service" validate:"required"`
	StripPrefix bool               `yaml:"strip_prefix"`
	Timeouts    rawSessionTimeouts `yaml:"timeouts"`
}

type rawSessionTimeouts struct {
	Connect string `yaml:"connect"`
	Read    string `yaml:"read"`
}

type rawTimeouts struct {
	Connect   string `yaml:"connect"`
	Read      string `yaml:"read"`
	Exchange  string `yaml:"exchange"`
	HTTPRead  string `yaml:"http_read"`
	HTTPWrite string `yaml:"http_write"`
}

type rawResponse struct {
	StrictStatus bool   `yaml:"strict_status"`
	FailureBody  string `yaml:"failure_body"`
}

type rawLog struct {
	Level   string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format  string `yaml:"format" validate:"omitempty,oneof=text json"`
	Verbose int    `yaml:"verbose" validate:"min=0,max=2"`
}

type rawAccessLog struct {
	Enabled  *bool    `yaml:"enabled"`
	Path     string   `yaml:"path"`
	Sampling *float64 `yaml:"sampling" validate:"omitempty,min=0,max=1"`
	Fields   []string `yaml:"fields" validate:"dive,oneof=time request_id method path command service payload outcome status duration_ms remote_ip bytes_written"`
}

type rawMetrics struct {
	Enabled *bool  `yaml:"enabled"`
	Path    string `yaml:"path"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

func Parse(b []byte) (*Config, error) {
	var rc rawConfig
	if err := yaml.Unmarshal(b, &rc); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	if err := validateRaw(&rc); err != nil {
		return nil, err
	}

	// listen
	listen := DefaultListen
	if len(rc.EntryPoint) > 0 && strings.TrimSpace(rc.EntryPoint[0].Address) != "" {
		listen = strings.TrimSpace(rc.EntryPoint[0].Address)
	}

	mount := strings.TrimSpace(rc.Path)
	if mount == "" {
		mount = DefaultPath
	}
	if !strings.HasPrefix(mount, "/") {
		return nil, fmt.Errorf("path: must start with '/'")
	}

	// services
	svcs := make(map[string]model.Service)
	for i, s := range rc.Services {
		name := strings.TrimSpace(s.Name)
		if _, dup := svcs[name]; dup {
			return nil, fmt.Errorf("services: duplicate name %q", name)
		}
		st, err := s.Timeouts.parse(fmt.Sprintf("services[%d].timeouts", i))
		if err != nil {
			return nil, err
		}
		svc := model.Service{
			Name:     name,
			Host:     strings.TrimSpace(s.Address),
			Port:     uint16(s.Port),
			Timeouts: st,
		}
		if s.RateLimit != nil {
			svc.RateLimit = &model.RateLimit{
				RequestsPerSecond: s.RateLimit.RequestsPerSecond,
				Burst:             s.RateLimit.Burst,
			}
		}
		svcs[name] = svc
	}

	def := strings.TrimSpace(rc.DefaultService)
	if def == "" {
		def = DefaultServiceName
	}
	if _, ok := svcs[def]; !ok {
		return nil, fmt.Errorf("default_service: %q not found in services", def)
	}

	// routes, kept in declaration order: first match wins
	var routes []model.Rule
	for i, r := range rc.Routes {
		name := strings.TrimSpace(r.Name)
		if name == "" {
			name = fmt.Sprintf("route-%d", i)
		}
		service := strings.TrimSpace(r.Service)
		if _, ok := svcs[service]; !ok {
			return nil, fmt.Errorf("routes[%d]: service=%q not found in services", i, service)
		}
		rt, err := r.Timeouts.parse(fmt.Sprintf("routes[%d].timeouts", i))
		if err != nil {
			return nil, err
		}
		// prefix is literal: surrounding spaces are significant
		routes = append(routes, model.Rule{
			Name:        name,
			Prefix:      r.Prefix,
			Service:     service,
			StripPrefix: r.StripPrefix,
			Timeouts:    rt,
		})
	}

	// timeouts
	timeouts := Timeouts{
		Session:   model.Timeouts{Connect: DefaultConnectTimeout, Read: DefaultReadTimeout},
		Exchange:  DefaultExchange,
		HTTPRead:  DefaultHTTPRead,
		HTTPWrite: DefaultHTTPWrite,
	}
	for _, f := range []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"timeouts.connect", rc.Timeouts.Connect, &timeouts.Session.Connect},
		{"timeouts.read", rc.Timeouts.Read, &timeouts.Session.Read},
		{"timeouts.exchange", rc.Timeouts.Exchange, &timeouts.Exchange},
		{"timeouts.http_read", rc.Timeouts.HTTPRead, &timeouts.HTTPRead},
		{"timeouts.http_write", rc.Timeouts.HTTPWrite, &timeouts.HTTPWrite},
	} {
		if f.raw == "" {
			continue
		}
		d, err := parseDuration(f.key, f.raw)
		if err != nil {
			return nil, err
		}
		*f.dst = d
	}

	// log
	lg := Log{Level: slog.LevelInfo, Format: "text", Verbose: rc.Log.Verbose}
	if rc.Log.Level != "" {
		if err := lg.Level.UnmarshalText([]byte(rc.Log.Level)); err != nil {
			return nil, fmt.Errorf("log.level: %v", err)
		}
	}
	if rc.Log.Format != "" {
		lg.Format = rc.Log.Format
	}

	// access log
	alc := AccessLogConfig{Enabled: true, Path: strings.TrimSpace(rc.AccessLog.Path), Sampling: 1.0, Fields: rc.AccessLog.Fields}
	if rc.AccessLog.Enabled != nil {
		alc.Enabled = *rc.AccessLog.Enabled
	}
	if rc.AccessLog.Sampling != nil {
		alc.Sampling = *rc.AccessLog.Sampling
	}

	// metrics
	m := Metrics{Enabled: true, Path: DefaultMetricsPath}
	if rc.Metrics.Enabled != nil {
		m.Enabled = *rc.Metrics.Enabled
	}
	if p := strings.TrimSpace(rc.Metrics.Path); p != "" {
		if !strings.HasPrefix(p, "/") {
			return nil, fmt.Errorf("metrics.path: must start with '/'")
		}
		m.Path = p
	}
	if strings.ContainsAny(rc.Response.FailureBody, "\r\n") {
		return nil, fmt.Errorf("response.failure_body: must be a single line")
	}
	if mount == HealthPath || (m.Enabled && mount == m.Path) {
		return nil, fmt.Errorf("path: %q collides with a built-in endpoint", mount)
	}

	return &Config{
		Listen:         listen,
		Path:           mount,
		DefaultService: def,
		Services:       svcs,
		Routes:         routes,
		Timeouts:       timeouts,
		Response: Response{
			StrictStatus: rc.Response.StrictStatus,
			FailureBody:  rc.Response.FailureBody,
		},
		Log:       lg,
		AccessLog: alc,
		Metrics:   m,
	}, nil
}

func (t rawSessionTimeouts) parse(key string) (model.Timeouts, error) {
	var out model.Timeouts
	if t.Connect != "" {
		d, err := parseDuration(key+".connect", t.Connect)
		if err != nil {
			return out, err
		}
		out.Connect = d
	}
	if t.Read != "" {
		d, err := parseDuration(key+".read", t.Read)
		if err != nil {
			return out, err
		}
		out.Read = d
	}
	return out, nil
}

func parseDuration(key, s string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%s: %v", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive", key)
	}
	return d, nil
}
