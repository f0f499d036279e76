package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/fabian4/peaudiosys-gateway/internal/config"
	"github.com/fabian4/peaudiosys-gateway/internal/directory"
	"github.com/fabian4/peaudiosys-gateway/internal/metrics"
	"github.com/fabian4/peaudiosys-gateway/internal/model"
	"github.com/fabian4/peaudiosys-gateway/internal/ratelimit"
	"github.com/fabian4/peaudiosys-gateway/internal/router"
	"github.com/fabian4/peaudiosys-gateway/internal/session"
	"github.com/fabian4/peaudiosys-gateway/internal/version"
)

// Outcomes that never reach a backend. Session outcomes use session.State names.
const (
	// OutcomeMalformed: no command, an undecodable one, or one with CR/LF.
	OutcomeMalformed = "malformed-command"
	// OutcomeNotConfigured: the route names a service missing from the directory.
	OutcomeNotConfigured = "service-not-configured"
	// OutcomeRateLimited: the service's token bucket was empty.
	OutcomeRateLimited = "rate-limited"
)

// replyLogLimit is how much of a reply verbose level 1 logs.
const replyLogLimit = 40

// Executor runs one backend session. *session.Client implements it.
type Executor interface {
	Execute(ctx context.Context, addr, payload string, t model.Timeouts) ([]byte, error)
}

// Settings are the per-process knobs the gateway reads on every request.
type Settings struct {
	Timeouts config.Timeouts
	Response config.Response
	Verbose  int
}

// Gateway relays one command per HTTP request to the backend that owns it.
// Everything it holds is read-only after NewGateway except the log dedup
// cells and the per-service availability flags, which are atomics.
type Gateway struct {
	Routes    *router.Table
	Directory *directory.Directory
	Sessions  Executor
	Limiter   *ratelimit.Limiter
	Settings  Settings
	Logger    *slog.Logger
	AccessLog *AccessLogger
	Metrics   *metrics.Registry

	down      map[string]*atomic.Bool
	lastCmd   lastSeen
	lastReply lastSeen
}

// NewGateway returns a gateway that logs nothing; set Logger, Limiter,
// AccessLog and Metrics before serving to enable them.
func NewGateway(rt *router.Table, dir *directory.Directory, sessions Executor, s Settings) *Gateway {
	down := make(map[string]*atomic.Bool)
	for _, name := range dir.Names() {
		down[name] = new(atomic.Bool)
	}
	return &Gateway{
		Routes:    rt,
		Directory: dir,
		Sessions:  sessions,
		Settings:  s,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		down:      down,
	}
}

var _ http.Handler = (*Gateway)(nil)

// exchange collects what the access log and metrics need about one request.
type exchange struct {
	id      string
	command string
	service string
	payload string
	outcome string
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	lw := &loggingResponseWriter{ResponseWriter: w}
	ex := &exchange{id: uuid.NewString()}
	defer func() {
		status := lw.statusCode
		if status == 0 {
			status = http.StatusOK
		}
		g.AccessLog.Log(AccessLog{
			Time:         start,
			RequestID:    ex.id,
			Method:       r.Method,
			Path:         r.URL.Path,
			Command:      ex.command,
			Service:      ex.service,
			Payload:      ex.payload,
			Outcome:      ex.outcome,
			Status:       status,
			Duration:     time.Since(start).Milliseconds(),
			RemoteIP:     r.RemoteAddr,
			BytesWritten: lw.bytes,
		})
		g.Metrics.IncRequest(ex.service, ex.outcome, strconv.Itoa(status))
	}()

	h := lw.Header()
	h.Set("Server", "pegateway/"+version.Value)
	h.Set("X-Request-Id", ex.id)

	cmd, err := Command(r)
	if err != nil {
		ex.outcome = OutcomeMalformed
		g.Logger.Debug("malformed command", "request_id", ex.id, "err", err)
		g.fail(lw, ex, http.StatusBadRequest)
		return
	}
	ex.command = cmd
	if g.Settings.Verbose > 0 && g.lastCmd.changed(cmd) {
		g.Logger.Info("command received", "request_id", ex.id, "command", cmd)
	}

	dec := g.Routes.Route(cmd)
	ex.service, ex.payload = dec.Service, dec.Payload
	svc, err := g.Directory.Lookup(dec.Service)
	if err != nil {
		ex.outcome = OutcomeNotConfigured
		g.Logger.Error("routing table points at an unknown service",
			"request_id", ex.id, "command", cmd, "service", dec.Service, "err", err)
		g.fail(lw, ex, http.StatusInternalServerError)
		return
	}

	if !g.Limiter.Allow(svc.Name) {
		ex.outcome = OutcomeRateLimited
		g.Metrics.IncRateLimited(svc.Name)
		g.Logger.Debug("rate limited", "request_id", ex.id, "service", svc.Name)
		g.fail(lw, ex, http.StatusTooManyRequests)
		return
	}

	t := SessionTimeouts(dec.Rule, svc, g.Settings.Timeouts.Session)
	ctx := r.Context()
	if g.Settings.Timeouts.Exchange > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Settings.Timeouts.Exchange)
		defer cancel()
	}

	sessionStart := time.Now()
	done := g.Metrics.SessionStarted(svc.Name)
	reply, err := g.Sessions.Execute(ctx, svc.Address(), dec.Payload, t)
	done()
	state := session.StateOf(err)
	ex.outcome = state.String()
	g.Metrics.ObserveSession(svc.Name, ex.outcome, time.Since(sessionStart))
	g.observe(svc, ex, state, err)

	if err != nil {
		g.fail(lw, ex, sessionStatus(state))
		return
	}
	if g.Settings.Verbose > 0 && g.lastReply.changed(string(reply)) {
		g.Logger.Info("backend reply", "request_id", ex.id, "service", svc.Name,
			"reply", g.replyForLog(reply), "bytes", len(reply))
	}
	g.write(lw, ex, http.StatusOK, reply)
}

// SessionTimeouts resolves route override > service > global.
func SessionTimeouts(rule *model.Rule, svc model.Service, global model.Timeouts) model.Timeouts {
	t := svc.Timeouts.Or(global)
	if rule != nil {
		t = rule.Timeouts.Or(t)
	}
	return t
}

// observe logs state transitions without spamming: a refused service is
// reported once when it goes down and once when it comes back.
func (g *Gateway) observe(svc model.Service, ex *exchange, state session.State, err error) {
	flag := g.down[svc.Name]
	switch state {
	case session.StateSucceeded:
		if flag != nil && flag.Swap(false) {
			g.Logger.Info("backend available again", "service", svc.Name, "addr", svc.Address())
		}
	case session.StateRefused:
		if flag == nil || !flag.Swap(true) {
			g.Logger.Warn("backend unavailable", "service", svc.Name, "addr", svc.Address(), "err", err)
		}
	case session.StateTimedOut:
		g.Logger.Warn("backend timeout", "request_id", ex.id, "service", svc.Name,
			"command", ex.command, "err", err)
	case session.StateCanceled:
		g.Logger.Debug("client went away", "request_id", ex.id, "service", svc.Name)
	default:
		g.Logger.Warn("backend session failed", "request_id", ex.id, "service", svc.Name,
			"command", ex.command, "err", err)
	}
}

func sessionStatus(s session.State) int {
	switch s {
	case session.StateTimedOut:
		return http.StatusGatewayTimeout
	case session.StateRefused:
		return http.StatusBadGateway
	case session.StateCanceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// fail completes the response for any failure. Outside strict mode the
// status stays 200, matching what browser clients expect.
func (g *Gateway) fail(w http.ResponseWriter, ex *exchange, strictStatus int) {
	status := http.StatusOK
	if g.Settings.Response.StrictStatus {
		status = strictStatus
	}
	g.write(w, ex, status, []byte(g.Settings.Response.FailureBody))
}

func (g *Gateway) write(w http.ResponseWriter, ex *exchange, status int, body []byte) {
	h := w.Header()
	h.Set("Content-Type", "text/plain")
	h.Set("Content-Length", strconv.Itoa(len(body)))
	h.Set("X-Gateway-Outcome", ex.outcome)
	if ex.service != "" {
		h.Set("X-Gateway-Service", ex.service)
	}
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil && !errors.Is(err, http.ErrHandlerTimeout) {
		g.Logger.Debug("write response", "request_id", ex.id, "err", err)
	}
}

func (g *Gateway) replyForLog(reply []byte) string {
	s := string(reply)
	if g.Settings.Verbose >= 2 {
		return s
	}
	return truncate(s, replyLogLimit)
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos] + " ... ..."
		}
		i++
	}
	return s
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
	bytes      int64
}

func (w *loggingResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *loggingResponseWriter) Write(b []byte) (int, error) {
	if w.statusCode == 0 {
		w.statusCode = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}
