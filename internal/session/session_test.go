package session

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/fabian4/peaudiosys-gateway/internal/backendtest"
	"github.com/fabian4/peaudiosys-gateway/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var fast = model.Timeouts{Connect: 500 * time.Millisecond, Read: 300 * time.Millisecond}

func TestExecute_ReplyUntilEOF(t *testing.T) {
	be := backendtest.Start(t, backendtest.Reply(func(line string) []byte {
		return []byte("ACK " + line + "\nsecond line\n")
	}))

	got, err := NewClient().Execute(context.Background(), be.Addr(), "level -15", fast)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if want := "ACK level -15\nsecond line\n"; string(got) != want {
		t.Fatalf("reply: got %q, want %q", got, want)
	}
	lines := be.Lines()
	if len(lines) != 1 || lines[0] != "level -15\r\n" {
		t.Fatalf("wire: got %q, want CRLF-terminated command", lines)
	}
}

func TestExecute_BinarySafe(t *testing.T) {
	payload := []byte{0x00, 0xff, '\r', '\n', 0x7f, 'x', 0x00}
	be := backendtest.Start(t, backendtest.Static(payload))

	got, err := NewClient().Execute(context.Background(), be.Addr(), "get_state", fast)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("reply: got %v, want %v", got, payload)
	}
}

func TestExecute_LargeReplyAcrossReads(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789abcdef"), 4096) // 64 KiB
	be := backendtest.Start(t, backendtest.Static(payload))

	got, err := NewClient().Execute(context.Background(), be.Addr(), "get_meta", fast)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("reply length: got %d, want %d", len(got), len(payload))
	}
}

func TestExecute_EmptyReplyIsSuccess(t *testing.T) {
	be := backendtest.Start(t, backendtest.Static(nil))

	got, err := NewClient().Execute(context.Background(), be.Addr(), "amp_switch on", fast)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("reply: got %q, want empty", got)
	}
	if StateOf(err) != StateSucceeded {
		t.Fatalf("state: got %v", StateOf(err))
	}
}

func TestExecute_ConnectionRefused(t *testing.T) {
	addr := backendtest.ClosedAddr(t)

	start := time.Now()
	_, err := NewClient().Execute(context.Background(), addr, "status", fast)
	if !errors.Is(err, ErrConnectionRefused) {
		t.Fatalf("want ErrConnectionRefused, got %v", err)
	}
	if StateOf(err) != StateRefused {
		t.Fatalf("state: got %v, want %v", StateOf(err), StateRefused)
	}
	if elapsed := time.Since(start); elapsed > fast.Connect+200*time.Millisecond {
		t.Fatalf("refused took %v", elapsed)
	}
}

func TestExecute_ConnectFailed(t *testing.T) {
	// .invalid never resolves; the dial fails without a refusal
	to := model.Timeouts{Connect: 200 * time.Millisecond, Read: 200 * time.Millisecond}

	start := time.Now()
	reply, err := NewClient().Execute(context.Background(), "nonexistent.invalid:9", "status", to)
	if !errors.Is(err, ErrConnectFailed) {
		t.Fatalf("want ErrConnectFailed, got %v", err)
	}
	if errors.Is(err, ErrConnectionRefused) {
		t.Fatalf("connect failure reported as refusal: %v", err)
	}
	if StateOf(err) != StateRefused {
		t.Fatalf("state: got %v, want %v", StateOf(err), StateRefused)
	}
	if reply != nil {
		t.Fatalf("reply: got %q, want nil", reply)
	}
	// the dialer timeout covers resolution as well as connect
	if elapsed := time.Since(start); elapsed > to.Connect+time.Second {
		t.Fatalf("connect failure took %v", elapsed)
	}
}

func TestExecute_SilentBackendTimesOut(t *testing.T) {
	be := backendtest.Start(t, backendtest.Hang(nil))

	start := time.Now()
	_, err := NewClient().Execute(context.Background(), be.Addr(), "players state", fast)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("want ErrTimeout, got %v", err)
	}
	if StateOf(err) != StateTimedOut {
		t.Fatalf("state: got %v", StateOf(err))
	}
	if elapsed < fast.Read {
		t.Fatalf("returned before read timeout: %v", elapsed)
	}
	if elapsed > fast.Read+500*time.Millisecond {
		t.Fatalf("timeout not bounded: %v", elapsed)
	}
}

func TestExecute_PartialReplyDiscardedOnTimeout(t *testing.T) {
	be := backendtest.Start(t, backendtest.Hang([]byte("partial")))

	got, err := NewClient().Execute(context.Background(), be.Addr(), "get_meta", fast)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("want ErrTimeout, got %v", err)
	}
	if got != nil {
		t.Fatalf("partial bytes leaked: %q", got)
	}
}

func TestExecute_IdleTimeoutResetsPerRead(t *testing.T) {
	// Three chunks 150ms apart with a 300ms idle budget: slower than one
	// read timeout overall, but never idle long enough to time out.
	be := backendtest.Start(t, func(c net.Conn, _ string) {
		for _, s := range []string{"a", "b", "c"} {
			time.Sleep(150 * time.Millisecond)
			_, _ = c.Write([]byte(s))
		}
	})

	got, err := NewClient().Execute(context.Background(), be.Addr(), "slow", fast)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if string(got) != "abc" {
		t.Fatalf("reply: got %q", got)
	}
}

func TestExecute_ContextDeadlineCapsTrickle(t *testing.T) {
	be := backendtest.Start(t, func(c net.Conn, _ string) {
		for i := 0; i < 50; i++ {
			if _, err := c.Write([]byte(".")); err != nil {
				return
			}
			time.Sleep(50 * time.Millisecond)
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := NewClient().Execute(ctx, be.Addr(), "trickle", fast)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("want ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("exchange cap not honored: %v", elapsed)
	}
}

func TestExecute_CancelAbortsSession(t *testing.T) {
	be := backendtest.Start(t, backendtest.Hang(nil))
	slow := model.Timeouts{Connect: time.Second, Read: 10 * time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	start := time.Now()
	_, err := NewClient().Execute(ctx, be.Addr(), "get_meta", slow)
	if !errors.Is(err, ErrCanceled) {
		t.Fatalf("want ErrCanceled, got %v", err)
	}
	if StateOf(err) != StateCanceled {
		t.Fatalf("state: got %v", StateOf(err))
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("cancel did not abort: %v", elapsed)
	}
}

func TestExecute_AlreadyCanceledDoesNotDial(t *testing.T) {
	be := backendtest.Start(t, backendtest.Echo())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewClient().Execute(ctx, be.Addr(), "x", fast); !errors.Is(err, ErrCanceled) {
		t.Fatalf("want ErrCanceled, got %v", err)
	}
	if n := be.Accepted(); n != 0 {
		t.Fatalf("dialed anyway: accepted=%d", n)
	}
}

func TestExecute_ReplyTooLarge(t *testing.T) {
	be := backendtest.Start(t, backendtest.Static([]byte(strings.Repeat("x", 100))))
	c := &Client{MaxReply: 10}

	_, err := c.Execute(context.Background(), be.Addr(), "x", fast)
	if !errors.Is(err, ErrReplyTooLarge) {
		t.Fatalf("want ErrReplyTooLarge, got %v", err)
	}
	if StateOf(err) != StateFailed {
		t.Fatalf("state: got %v", StateOf(err))
	}
}

func TestExecute_OneConnectionPerCall(t *testing.T) {
	be := backendtest.Start(t, backendtest.Echo())
	c := NewClient()
	for i := 0; i < 3; i++ {
		if _, err := c.Execute(context.Background(), be.Addr(), "status", fast); err != nil {
			t.Fatalf("Execute %d: %v", i, err)
		}
	}
	if n := be.Accepted(); n != 3 {
		t.Fatalf("accepted: got %d, want 3", n)
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateSucceeded: "succeeded",
		StateTimedOut:  "timed-out",
		StateRefused:   "connection-refused",
		StateCanceled:  "canceled",
		StateFailed:    "failed",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("%d: got %q, want %q", s, got, want)
		}
	}
}
