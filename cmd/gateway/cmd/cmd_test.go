package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fabian4/peaudiosys-gateway/internal/backendtest"
	"github.com/fabian4/peaudiosys-gateway/internal/handler"
	"github.com/fabian4/peaudiosys-gateway/internal/session"
)

func writeConfig(t *testing.T, control, aux uint16) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "gateway.yaml")
	yml := fmt.Sprintf(`
default_service: control
services:
  - { name: control, address: 127.0.0.1, port: %d }
  - { name: aux, address: 127.0.0.1, port: %d, rate_limit: { requests_per_second: 10, burst: 5 } }
routes:
  - { name: aux, prefix: "aux ", service: aux, strip_prefix: true }
timeouts: { connect: 200ms, read: 300ms }
`, control, aux)
	if err := os.WriteFile(p, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		verbosity = 0
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestRoute(t *testing.T) {
	cfg := writeConfig(t, 9999, 9998)
	out, err := run(t, "route", "--config", cfg, "aux amp_switch on")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	for _, want := range []string{
		"rule:     aux",
		"service:  aux",
		"address:  127.0.0.1:9998",
		`payload:  "amp_switch on"`,
		"limited:  true",
		"default:  control (127.0.0.1:9999, 1 rules)",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}

	out, err = run(t, "route", "--config", cfg, "level -15")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if !strings.Contains(out, "rule:     (default)") || !strings.Contains(out, "service:  control") ||
		!strings.Contains(out, "limited:  false") {
		t.Fatalf("default route: %s", out)
	}
}

func TestSend(t *testing.T) {
	control := backendtest.Start(t, backendtest.Static([]byte(`{"level": -15}`)))
	aux := backendtest.Start(t, backendtest.Echo())
	cfg := writeConfig(t, control.Port(), aux.Port())

	out, err := run(t, "send", "--config", cfg, "aux amp_switch on")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if out != "amp_switch on" {
		t.Fatalf("send aux: got %q", out)
	}

	out, err = run(t, "send", "--config", cfg, "state")
	if err != nil || out != `{"level": -15}` {
		t.Fatalf("send control: out=%q err=%v", out, err)
	}
}

func TestSend_Refused(t *testing.T) {
	closed := backendtest.ClosedService(t, "control")
	cfg := writeConfig(t, closed.Port, closed.Port)

	_, err := run(t, "send", "--config", cfg, "state")
	if !errors.Is(err, session.ErrConnectionRefused) {
		t.Fatalf("expected refused, got %v", err)
	}
}

func TestSend_Malformed(t *testing.T) {
	_, err := run(t, "send", "--config", "unused.yaml", "a\nb")
	if !errors.Is(err, handler.ErrMalformedCommand) {
		t.Fatalf("expected malformed, got %v", err)
	}
}

func TestMissingConfig(t *testing.T) {
	_, err := run(t, "route", "--config", filepath.Join(t.TempDir(), "nope.yaml"), "x")
	if err == nil || !strings.HasPrefix(err.Error(), "config:") {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "gateway dev\n") {
		t.Fatalf("version: %q", out)
	}
}
