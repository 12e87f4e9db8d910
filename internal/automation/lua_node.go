//go:build !no_automation

package automation

import (
	"time"

	lua "github.com/yuin/gopher-lua"
)

const maxHandlersPerScript = 100

// registerNodeModule registers the `node` global table in a Lua state.
func registerNodeModule(L *lua.LState, vm *scriptVM, e *Engine) {
	mod := L.NewTable()

	mod.RawSetString("on", L.NewFunction(func(L *lua.LState) int {
		return nodeOn(L, vm)
	}))
	mod.RawSetString("after", L.NewFunction(func(L *lua.LState) int {
		return nodeAfter(L, vm, e)
	}))
	mod.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
		e.logger.Info("script log", "msg", L.CheckString(1))
		return 0
	}))
	mod.RawSetString("occupied", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LBool(e.node != nil && e.node.Occupied()))
		return 1
	}))
	mod.RawSetString("sensor_id", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(e.id.SensorID))
		return 1
	}))
	mod.RawSetString("firmware_version", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(e.id.FirmwareVersion))
		return 1
	}))

	L.SetGlobal("node", mod)
}

// node.on(type, [filter,] callback)
func nodeOn(L *lua.LState, vm *scriptVM) int {
	h := luaEventHandler{eventType: L.CheckString(1)}

	if L.GetTop() >= 3 {
		filter := L.CheckTable(2)
		h.fn = L.CheckFunction(3)
		h.filter = make(map[string]string)
		filter.ForEach(func(k, v lua.LValue) {
			h.filter[k.String()] = v.String()
		})
	} else {
		h.fn = L.CheckFunction(2)
	}

	vm.mu.Lock()
	if len(vm.handlers) >= maxHandlersPerScript {
		vm.mu.Unlock()
		L.RaiseError("too many handlers (max %d)", maxHandlersPerScript)
		return 0
	}
	vm.handlers = append(vm.handlers, h)
	vm.mu.Unlock()
	return 0
}

// node.after(seconds, callback) runs callback on the script's VM later.
func nodeAfter(L *lua.LState, vm *scriptVM, e *Engine) int {
	seconds := L.CheckNumber(1)
	fn := L.CheckFunction(2)

	go func() {
		timer := time.NewTimer(time.Duration(float64(seconds) * float64(time.Second)))
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-vm.ctx.Done():
			return
		}

		select {
		case vm.commands <- func(L *lua.LState) {
			if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
				e.logger.Error("after callback error", "err", err)
			}
		}:
		default:
			e.logger.Warn("after: command channel full")
		}
	}()
	return 0
}
