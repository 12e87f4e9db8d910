//go:build !no_automation

package automation

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	lua "github.com/yuin/gopher-lua"

	"occupancy-node/internal/events"
	"occupancy-node/internal/identity"
)

// syncBuffer collects log output written from VM goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) waitFor(t *testing.T, substr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(b.String(), substr) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("log never contained %q:\n%s", substr, b.String())
}

type fakeNode struct{ occupied bool }

func (f fakeNode) Occupied() bool { return f.occupied }

func writeScript(t *testing.T, dir, name, code string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(code), 0o644); err != nil {
		t.Fatal(err)
	}
}

func startEngine(t *testing.T, scripts map[string]string) (*Engine, *events.Bus, *syncBuffer) {
	t.Helper()
	out := &syncBuffer{}
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: slog.LevelInfo}))

	dir := t.TempDir()
	for name, code := range scripts {
		writeScript(t, dir, name, code)
	}
	mgr, err := NewManager(dir, logger)
	if err != nil {
		t.Fatal(err)
	}

	bus := events.NewBus(logger)
	id := identity.Identity{SensorID: "a1b2c3d4e5f6", FirmwareVersion: "1.0.0"}
	e := NewEngine(bus, fakeNode{occupied: true}, id, mgr, logger, SystemConfig{})
	e.Start()
	t.Cleanup(e.Stop)
	return e, bus, out
}

func TestEngineDispatchesMotion(t *testing.T) {
	_, bus, out := startEngine(t, map[string]string{
		"motion.lua": `node.on("motion", function(ev) node.log("motion at " .. ev.timestamp) end)`,
	})

	bus.Emit(events.Event{Type: events.EventMotion, Data: map[string]any{"timestamp": uint64(1234)}})
	out.waitFor(t, "motion at 1234")
}

func TestEngineFilterByOutcome(t *testing.T) {
	_, bus, out := startEngine(t, map[string]string{
		"report.lua": `node.on("report", {outcome = "rejected"}, function(ev) node.log("rejected " .. ev.status) end)
node.on("report", function(ev) node.log("any " .. ev.outcome) end)`,
	})

	bus.Emit(events.Event{Type: events.EventReport, Data: map[string]any{"outcome": "sent", "status": 200}})
	bus.Emit(events.Event{Type: events.EventReport, Data: map[string]any{"outcome": "rejected", "status": 500}})

	out.waitFor(t, "rejected 500")
	out.waitFor(t, "any sent")
	if strings.Contains(out.String(), "rejected 200") {
		t.Error("filtered handler ran for a sent report")
	}
}

func TestEngineNodeAccessors(t *testing.T) {
	_, bus, out := startEngine(t, map[string]string{
		"info.lua": `node.on("report", function()
  node.log(node.sensor_id() .. " " .. node.firmware_version() .. " " .. tostring(node.occupied()))
end)`,
	})

	bus.Emit(events.Event{Type: events.EventReport, Data: map[string]any{}})
	out.waitFor(t, "a1b2c3d4e5f6 1.0.0 true")
}

func TestEngineAfter(t *testing.T) {
	_, bus, out := startEngine(t, map[string]string{
		"blink.lua": `node.on("report", function() node.after(0.01, function() node.log("led off") end) end)`,
	})

	bus.Emit(events.Event{Type: events.EventReport, Data: map[string]any{}})
	out.waitFor(t, "led off")
}

func TestEngineSkipsBrokenAndDisabledScripts(t *testing.T) {
	e, _, out := startEngine(t, map[string]string{
		"broken.lua":   `this is not lua`,
		"disabled.lua": "-- {\"name\": \"off\", \"enabled\": false}\nnode.log(\"should not run\")",
		"ok.lua":       `node.log("loaded")`,
	})

	if n := e.Running(); n != 1 {
		t.Errorf("running = %d, want 1", n)
	}
	if strings.Contains(out.String(), "should not run") {
		t.Error("disabled script executed")
	}
}

func TestEngineSandbox(t *testing.T) {
	e, _, _ := startEngine(t, map[string]string{
		"escape.lua": `os.execute("true")`,
	})
	if n := e.Running(); n != 0 {
		t.Errorf("script using os started: running = %d", n)
	}
}

func TestEngineHandlerErrorDoesNotStopVM(t *testing.T) {
	_, bus, out := startEngine(t, map[string]string{
		"err.lua": `node.on("report", function(ev)
  if ev.outcome == "bad" then error("boom") end
  node.log("handled " .. ev.outcome)
end)`,
	})

	bus.Emit(events.Event{Type: events.EventReport, Data: map[string]any{"outcome": "bad"}})
	bus.Emit(events.Event{Type: events.EventReport, Data: map[string]any{"outcome": "sent"}})
	out.waitFor(t, "lua handler error")
	out.waitFor(t, "handled sent")
}

func TestEngineStopUnsubscribes(t *testing.T) {
	e, bus, out := startEngine(t, map[string]string{
		"m.lua": `node.on("motion", function() node.log("late motion") end)`,
	})
	e.Stop()

	bus.Emit(events.Event{Type: events.EventMotion, Data: map[string]any{"timestamp": uint64(1)}})
	time.Sleep(20 * time.Millisecond)
	if strings.Contains(out.String(), "late motion") {
		t.Error("handler ran after Stop")
	}
	if n := e.Running(); n != 0 {
		t.Errorf("running = %d after Stop", n)
	}
}

func TestMatchesHandler(t *testing.T) {
	tests := []struct {
		name  string
		h     luaEventHandler
		event events.Event
		want  bool
	}{
		{"type match", luaEventHandler{eventType: "motion"}, events.Event{Type: "motion"}, true},
		{"type mismatch", luaEventHandler{eventType: "motion"}, events.Event{Type: "report"}, false},
		{"filter match", luaEventHandler{eventType: "report", filter: map[string]string{"status": "200"}},
			events.Event{Type: "report", Data: map[string]any{"status": 200}}, true},
		{"filter mismatch", luaEventHandler{eventType: "report", filter: map[string]string{"status": "200"}},
			events.Event{Type: "report", Data: map[string]any{"status": 500}}, false},
		{"filter key missing", luaEventHandler{eventType: "report", filter: map[string]string{"outcome": "sent"}},
			events.Event{Type: "report"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matchesHandler(tt.h, tt.event); got != tt.want {
				t.Errorf("matchesHandler = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGoToLua(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	tests := []struct {
		name string
		val  interface{}
		want lua.LValueType
	}{
		{"nil", nil, lua.LTNil},
		{"bool", true, lua.LTBool},
		{"string", "hello", lua.LTString},
		{"int", 42, lua.LTNumber},
		{"uint64", uint64(1 << 40), lua.LTNumber},
		{"float64", 3.14, lua.LTNumber},
		{"map", map[string]any{"a": 1}, lua.LTTable},
		{"slice", []any{1, 2, 3}, lua.LTTable},
		{"unknown", struct{}{}, lua.LTString},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := goToLua(L, tt.val); got.Type() != tt.want {
				t.Errorf("goToLua(%v) type = %v, want %v", tt.val, got.Type(), tt.want)
			}
		})
	}
}
