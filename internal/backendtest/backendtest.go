// Package backendtest runs fake line-oriented control services on loopback
// for tests: read one command line, act, close.
package backendtest

import (
	"bufio"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fabian4/peaudiosys-gateway/internal/model"
)

// Behavior handles one accepted connection after its command line was read.
// line has the line terminator removed. The connection is closed when it returns.
type Behavior func(c net.Conn, line string)

// Reply answers with reply(line) and closes.
func Reply(reply func(line string) []byte) Behavior {
	return func(c net.Conn, line string) {
		_, _ = c.Write(reply(line))
	}
}

// Static answers every command with the same bytes.
func Static(b []byte) Behavior {
	return Reply(func(string) []byte { return b })
}

// Echo answers with the received line.
func Echo() Behavior {
	return Reply(func(line string) []byte { return []byte(line) })
}

// Hang writes prefix (possibly empty) and then never writes or closes until
// the client goes away.
func Hang(prefix []byte) Behavior {
	return func(c net.Conn, _ string) {
		if len(prefix) > 0 {
			_, _ = c.Write(prefix)
		}
		_, _ = io.Copy(io.Discard, c)
	}
}

// Backend is a running fake service.
type Backend struct {
	ln       net.Listener
	behavior Behavior
	wg       sync.WaitGroup

	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	raw      []string
	accepted int
	closed   bool
}

// Start listens on 127.0.0.1 and serves each connection with b.
// The backend is closed by t.Cleanup.
func Start(t testing.TB, b Behavior) *Backend {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen backend: %v", err)
	}
	be := &Backend{ln: ln, behavior: b, conns: make(map[net.Conn]struct{})}
	be.wg.Add(1)
	go be.serve()
	t.Cleanup(be.Close)
	return be
}

func (b *Backend) serve() {
	defer b.wg.Done()
	for {
		c, err := b.ln.Accept()
		if err != nil {
			return
		}
		if !b.track(c) {
			_ = c.Close()
			return
		}
		b.wg.Add(1)
		go b.handle(c)
	}
}

func (b *Backend) track(c net.Conn) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.accepted++
	b.conns[c] = struct{}{}
	return true
}

func (b *Backend) handle(c net.Conn) {
	defer b.wg.Done()
	defer func() {
		b.mu.Lock()
		delete(b.conns, c)
		b.mu.Unlock()
		_ = c.Close()
	}()

	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	raw, err := bufio.NewReader(c).ReadString('\n')
	if err != nil {
		return
	}
	_ = c.SetReadDeadline(time.Time{})

	b.mu.Lock()
	b.raw = append(b.raw, raw)
	b.mu.Unlock()

	b.behavior(c, strings.TrimRight(raw, "\r\n"))
}

// Close stops accepting, drops open connections and waits for handlers.
func (b *Backend) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	_ = b.ln.Close()
	for c := range b.conns {
		_ = c.Close()
	}
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *Backend) Addr() string { return b.ln.Addr().String() }

func (b *Backend) Port() uint16 { return uint16(b.ln.Addr().(*net.TCPAddr).Port) }

// Service describes the backend as a directory entry.
func (b *Backend) Service(name string) model.Service {
	return model.Service{Name: name, Host: "127.0.0.1", Port: b.Port()}
}

// Lines returns every received command line, terminator included.
func (b *Backend) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.raw))
	copy(out, b.raw)
	return out
}

// Commands returns every received command with the terminator removed.
func (b *Backend) Commands() []string {
	lines := b.Lines()
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, "\r\n")
	}
	return lines
}

// Accepted is the number of connections accepted so far.
func (b *Backend) Accepted() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.accepted
}

// ClosedAddr returns a loopback address nobody listens on.
func ClosedAddr(t testing.TB) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

// ClosedService is a directory entry pointing at ClosedAddr.
func ClosedService(t testing.TB, name string) model.Service {
	t.Helper()
	addr := ClosedAddr(t)
	tcp, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		t.Fatalf("resolve %s: %v", addr, err)
	}
	return model.Service{Name: name, Host: "127.0.0.1", Port: uint16(tcp.Port)}
}
