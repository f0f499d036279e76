package model

import (
	"net"
	"strconv"
	"time"
)

// Service is a backend control service: one TCP endpoint addressed by name.
type Service struct {
	Name      string
	Host      string
	Port      uint16
	Timeouts  Timeouts   // zero fields fall back to the global values
	RateLimit *RateLimit // optional
}

// Address returns host:port suitable for net.Dial.
func (s Service) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(int(s.Port)))
}

// Rule binds a literal command prefix to a service.
type Rule struct {
	Name        string
	Prefix      string   // literal, never empty
	Service     string   // Service.Name
	StripPrefix bool     // drop Prefix (and one separating space) from the payload
	Timeouts    Timeouts // optional per-route override
}

// Timeouts for one backend session. Zero means "not set".
type Timeouts struct {
	Connect time.Duration
	Read    time.Duration // max idle gap between reads
}

// Or returns t with every unset field taken from fallback.
func (t Timeouts) Or(fallback Timeouts) Timeouts {
	if t.Connect <= 0 {
		t.Connect = fallback.Connect
	}
	if t.Read <= 0 {
		t.Read = fallback.Read
	}
	return t
}

type RateLimit struct {
	RequestsPerSecond float64
	Burst             int
}
