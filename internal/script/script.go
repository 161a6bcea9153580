// Package script runs Lua show scripts against a device input port. Every
// console command is a Lua function taking the same words:
//
//	pattern(0, "plasma", "200040", "002040", 8)
//	mode("pattern", 0)
//	for i = 0, 255, 5 do brightness(i) sleep(20) end
//
// Helpers: sleep(ms), rgb(r, g, b) returning "rrggbb", send(hex) for raw
// bytes and log(msg).
package script

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"

	"github.com/coreman2200/povpoi/internal/console"
)

// Runner executes scripts. Sleep defaults to a wall-clock sleep that stops
// when the script's context ends.
type Runner struct {
	Dev   console.Sender
	Sleep func(ctx context.Context, d time.Duration) error
	Log   zerolog.Logger

	// Sent counts frames handed to Dev.
	Sent int
}

func NewRunner(dev console.Sender, log zerolog.Logger) *Runner {
	return &Runner{Dev: dev, Sleep: sleep, Log: log.With().Str("component", "script").Logger()}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RunString executes src.
func (r *Runner) RunString(ctx context.Context, src string) error {
	L := r.state(ctx)
	defer L.Close()
	if err := L.DoString(src); err != nil {
		return fmt.Errorf("script: %w", err)
	}
	return nil
}

// RunFile executes the script at path.
func (r *Runner) RunFile(ctx context.Context, path string) error {
	L := r.state(ctx)
	defer L.Close()
	if err := L.DoFile(path); err != nil {
		return fmt.Errorf("script %s: %w", path, err)
	}
	return nil
}

func (r *Runner) state(ctx context.Context) *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	L.SetContext(ctx)

	for _, name := range console.Names() {
		L.SetGlobal(name, L.NewFunction(r.command(name)))
	}
	L.SetGlobal("sleep", L.NewFunction(func(L *lua.LState) int {
		ms := L.CheckInt(1)
		if err := r.Sleep(ctx, time.Duration(ms)*time.Millisecond); err != nil {
			L.RaiseError("sleep: %v", err)
		}
		return 0
	}))
	L.SetGlobal("rgb", L.NewFunction(func(L *lua.LState) int {
		c := func(n int) int { return max(0, min(255, L.CheckInt(n))) }
		L.Push(lua.LString(fmt.Sprintf("%02x%02x%02x", c(1), c(2), c(3))))
		return 1
	}))
	L.SetGlobal("send", L.NewFunction(r.command("raw")))
	L.SetGlobal("log", L.NewFunction(func(L *lua.LState) int {
		r.Log.Info().Msg(L.CheckString(1))
		return 0
	}))
	return L
}

// command wraps a console command: arguments are converted to words and
// the encoded frame goes to Dev.
func (r *Runner) command(name string) lua.LGFunction {
	return func(L *lua.LState) int {
		args := make([]string, 0, L.GetTop())
		for i := 1; i <= L.GetTop(); i++ {
			args = append(args, L.Get(i).String())
		}
		b, err := console.Command(name, args)
		if err != nil {
			L.RaiseError("%s: %v", name, err)
			return 0
		}
		if !r.Dev.Send(b) {
			r.Log.Warn().Str("command", name).Msg("device input full; frame dropped")
			return 0
		}
		r.Sent++
		return 0
	}
}
