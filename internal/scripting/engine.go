// Package scripting wraps a single gopher-lua VM for tunable game
// formulas. Single-goroutine access only (game loop).
package scripting

import (
	"fmt"
	"os"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Engine wraps the Lua VM and exposes typed bridges for the formulas the
// companion engines consult.
type Engine struct {
	vm  *lua.LState
	log *zap.Logger
}

// NewEngine creates a Lua engine and loads all scripts from the given
// directory and its companion/ subdirectory.
func NewEngine(scriptsDir string, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, log: log}

	for _, sub := range []string{"", "companion"} {
		p := filepath.Join(scriptsDir, sub)
		if err := e.loadDir(p); err != nil {
			vm.Close()
			return nil, fmt.Errorf("load %s scripts: %w", sub, err)
		}
	}
	return e, nil
}

// loadDir loads all .lua files in a directory.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// HomunExpForLevel calls Lua homun_exp_for_level(level): cumulative
// experience required to reach the given level.
func (e *Engine) HomunExpForLevel(level int) int64 {
	return int64(e.callIntFunc("homun_exp_for_level", level))
}

// FeedEffect holds the outcome of one feeding, as decided by Lua.
type FeedEffect struct {
	IntimacyDelta int
	HungerDelta   int
	Overfeed      bool
}

// CalcFeedEffect calls Lua calc_feed_effect(hunger).
func (e *Engine) CalcFeedEffect(hunger int) FeedEffect {
	fn := e.vm.GetGlobal("calc_feed_effect")
	if fn == lua.LNil {
		e.log.Error("lua function calc_feed_effect not found")
		return FeedEffect{IntimacyDelta: 100, HungerDelta: 10}
	}

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, lua.LNumber(hunger)); err != nil {
		e.log.Error("lua calc_feed_effect error", zap.Error(err))
		return FeedEffect{IntimacyDelta: 100, HungerDelta: 10}
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)

	rt, ok := result.(*lua.LTable)
	if !ok {
		e.log.Error("lua calc_feed_effect returned non-table")
		return FeedEffect{IntimacyDelta: 100, HungerDelta: 10}
	}

	return FeedEffect{
		IntimacyDelta: lInt(rt, "intimacy_delta"),
		HungerDelta:   lInt(rt, "hunger_delta"),
		Overfeed:      rt.RawGetString("overfeed") == lua.LTrue,
	}
}

// CalcStarvationDrain calls Lua calc_starvation_drain(intimacy): the
// intimacy lost on one starving tick.
func (e *Engine) CalcStarvationDrain(intimacy int) int {
	fn := e.vm.GetGlobal("calc_starvation_drain")
	if fn == lua.LNil {
		return 100
	}
	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, lua.LNumber(intimacy)); err != nil {
		e.log.Error("lua calc_starvation_drain error", zap.Error(err))
		return 100
	}
	result := e.vm.Get(-1)
	e.vm.Pop(1)
	return int(lua.LVAsNumber(result))
}

// MercExpForKill calls Lua merc_exp_for_kill(merc_level, target_level).
func (e *Engine) MercExpForKill(mercLevel, targetLevel int) int {
	return e.callIntFunc("merc_exp_for_kill", mercLevel, targetLevel)
}

// --- Lua helpers ---

// lInt reads an integer field from a Lua table.
func lInt(t *lua.LTable, key string) int {
	return int(lua.LVAsNumber(t.RawGetString(key)))
}

// callIntFunc calls a Lua function with int args and returns an int result.
func (e *Engine) callIntFunc(name string, args ...int) int {
	fn := e.vm.GetGlobal(name)
	if fn == lua.LNil {
		e.log.Error("lua function not found", zap.String("name", name))
		return 0
	}

	lArgs := make([]lua.LValue, len(args))
	for i, a := range args {
		lArgs[i] = lua.LNumber(a)
	}

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, lArgs...); err != nil {
		e.log.Error("lua call error", zap.String("func", name), zap.Error(err))
		return 0
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)
	return int(lua.LVAsNumber(result))
}

// DoString executes raw Lua source. Tests use it to load formula stubs.
func (e *Engine) DoString(src string) error {
	return e.vm.DoString(src)
}

// Close shuts down the Lua VM.
func (e *Engine) Close() {
	e.vm.Close()
}
