package gpio

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestLineWaitReturnsImmediatelyAtLevel(t *testing.T) {
	l := NewLine()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := l.WaitForLow(ctx); err != nil {
		t.Fatalf("WaitForLow on low line: %v", err)
	}
	l.Set(true)
	if err := l.WaitForHigh(ctx); err != nil {
		t.Fatalf("WaitForHigh on high line: %v", err)
	}
}

func TestLineWaitWakesOnChange(t *testing.T) {
	l := NewLine()
	done := make(chan error, 1)
	go func() {
		done <- l.WaitForHigh(context.Background())
	}()

	select {
	case <-done:
		t.Fatal("WaitForHigh returned before line went high")
	case <-time.After(20 * time.Millisecond):
	}

	l.Set(true)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("WaitForHigh: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitForHigh did not wake")
	}
}

func TestLineWaitHonorsContext(t *testing.T) {
	l := NewLine()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.WaitForHigh(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestParseModemLine(t *testing.T) {
	tests := []struct {
		in      string
		want    ModemLine
		wantErr bool
	}{
		{"", LineCTS, false},
		{"CTS", LineCTS, false},
		{"dsr", LineDSR, false},
		{"dcd", LineDCD, false},
		{"ri", LineRI, false},
		{"rts", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseModemLine(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPollerFeedsLine(t *testing.T) {
	var mu sync.Mutex
	level := false
	var sampleErr error
	sample := func() (bool, error) {
		mu.Lock()
		defer mu.Unlock()
		return level, sampleErr
	}

	l := NewLine()
	p := startPoller(l, sample, 2*time.Millisecond, testLogger())
	defer p.stop()

	mu.Lock()
	level = true
	mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := l.WaitForHigh(ctx); err != nil {
		t.Fatalf("line never went high: %v", err)
	}

	// A failing sample reads as inactive.
	mu.Lock()
	sampleErr = errors.New("device unplugged")
	mu.Unlock()
	if err := l.WaitForLow(ctx); err != nil {
		t.Fatalf("line never went low on sample error: %v", err)
	}
}

type fakeControl struct {
	dtrErr, rtsErr error
	dtr, rts       bool
}

func (f *fakeControl) SetDTR(v bool) error {
	f.dtr = v
	return f.dtrErr
}

func (f *fakeControl) SetRTS(v bool) error {
	f.rts = v
	return f.rtsErr
}

func TestPowerSensor(t *testing.T) {
	tests := []struct {
		name     string
		dtrErr   error
		rtsErr   error
		wantLogs []string
	}{
		{"ok", nil, nil, nil},
		{"dtr fails", errors.New("ioctl: input/output error"), nil, []string{"set DTR"}},
		{"both fail", errors.New("ioctl"), errors.New("ioctl"), []string{"set DTR", "set RTS"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
			port := &fakeControl{dtrErr: tt.dtrErr, rtsErr: tt.rtsErr}

			powerSensor(port, logger)

			if !port.dtr || !port.rts {
				t.Errorf("dtr=%v rts=%v, want both asserted", port.dtr, port.rts)
			}
			out := buf.String()
			for _, want := range tt.wantLogs {
				if !strings.Contains(out, want) {
					t.Errorf("log %q missing %q", out, want)
				}
			}
			if tt.wantLogs == nil && out != "" {
				t.Errorf("unexpected log output: %q", out)
			}
		})
	}
}
