// Package script drives a headless peer from Lua.
//
//	if claim("boxes", "box1") then
//	  push("boxes", "box1", 10, 20, 0)
//	end
//	trigger("sensor1")
//	respawn("eggs", "egg1")
//	sleep(0.5)
//	log("phase is " .. phase())
package script

import (
	"context"
	"fmt"
	"log"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/logging"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/model"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/session"
)

// API is the part of a peer a script may use.
type API interface {
	ID() string
	Claim(ctx context.Context, ref model.Ref) (bool, error)
	Release(ref model.Ref)
	Controls(ref model.Ref) bool
	Move(ref model.Ref, t model.Transform) bool
	Transform(ref model.Ref) (model.Transform, bool)
	Touch(ref model.Ref)
	Untouch(ref model.Ref)
	Respawn(ref model.Ref) bool
	StartVote() error
	Vote(target string) error
	Fire(id string, on bool) error
	Triggered(id string) bool
	Phase() session.Phase
}

type Options struct {
	Logger *log.Logger
	// PollInterval is how often wait_phase re-checks.
	PollInterval time.Duration
}

type Runner struct {
	api  API
	opts Options
}

func New(api API, opts Options) *Runner {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 20 * time.Millisecond
	}
	return &Runner{api: api, opts: opts}
}

// Run executes src. Cancelling ctx aborts the script.
func (r *Runner) Run(ctx context.Context, src string) error {
	L := r.state(ctx)
	defer L.Close()
	if err := L.DoString(src); err != nil {
		return fmt.Errorf("script: %w", err)
	}
	return nil
}

func (r *Runner) RunFile(ctx context.Context, path string) error {
	L := r.state(ctx)
	defer L.Close()
	if err := L.DoFile(path); err != nil {
		return fmt.Errorf("script: %s: %w", path, err)
	}
	return nil
}

func (r *Runner) state(ctx context.Context) *lua.LState {
	L := lua.NewState()
	L.SetContext(ctx)
	for name, fn := range map[string]lua.LGFunction{
		"id":         r.id,
		"claim":      r.claim,
		"release":    r.release,
		"controls":   r.controls,
		"push":       r.push,
		"position":   r.position,
		"touch":      r.touch,
		"untouch":    r.untouch,
		"respawn":    r.respawn,
		"start_vote": r.startVote,
		"vote":       r.vote,
		"trigger":    r.trigger,
		"triggered":  r.triggered,
		"phase":      r.phase,
		"wait_phase": r.waitPhase,
		"sleep":      r.sleep,
		"log":        r.log,
	} {
		L.SetGlobal(name, L.NewFunction(fn))
	}
	return L
}

func checkRef(L *lua.LState) model.Ref {
	c := model.Category(L.CheckString(1))
	switch c {
	case model.CategoryBoxes, model.CategoryDropboxes, model.CategoryItems, model.CategoryEggs:
	default:
		L.ArgError(1, "unknown category "+string(c))
	}
	return model.NewRef(c, L.CheckString(2))
}

// pushResult follows the Lua convention: true, or nil plus a message.
func pushResult(L *lua.LState, err error) int {
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

func (r *Runner) id(L *lua.LState) int {
	L.Push(lua.LString(r.api.ID()))
	return 1
}

func (r *Runner) claim(L *lua.LState) int {
	ok, err := r.api.Claim(L.Context(), checkRef(L))
	if err != nil {
		return pushResult(L, err)
	}
	L.Push(lua.LBool(ok))
	return 1
}

func (r *Runner) release(L *lua.LState) int {
	r.api.Release(checkRef(L))
	return 0
}

func (r *Runner) controls(L *lua.LState) int {
	L.Push(lua.LBool(r.api.Controls(checkRef(L))))
	return 1
}

func (r *Runner) push(L *lua.LState) int {
	ref := checkRef(L)
	t := model.Transform{
		X:        float64(L.CheckNumber(3)),
		Y:        float64(L.CheckNumber(4)),
		Rotation: float64(L.OptNumber(5, 0)),
	}
	L.Push(lua.LBool(r.api.Move(ref, t)))
	return 1
}

func (r *Runner) position(L *lua.LState) int {
	t, ok := r.api.Transform(checkRef(L))
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LNumber(t.X))
	L.Push(lua.LNumber(t.Y))
	L.Push(lua.LNumber(t.Rotation))
	return 3
}

func (r *Runner) touch(L *lua.LState) int {
	r.api.Touch(checkRef(L))
	return 0
}

func (r *Runner) untouch(L *lua.LState) int {
	r.api.Untouch(checkRef(L))
	return 0
}

func (r *Runner) respawn(L *lua.LState) int {
	L.Push(lua.LBool(r.api.Respawn(checkRef(L))))
	return 1
}

func (r *Runner) startVote(L *lua.LState) int {
	return pushResult(L, r.api.StartVote())
}

// vote(target) votes for target; vote() skips.
func (r *Runner) vote(L *lua.LState) int {
	return pushResult(L, r.api.Vote(L.OptString(1, "")))
}

func (r *Runner) trigger(L *lua.LState) int {
	return pushResult(L, r.api.Fire(L.CheckString(1), L.OptBool(2, true)))
}

func (r *Runner) triggered(L *lua.LState) int {
	L.Push(lua.LBool(r.api.Triggered(L.CheckString(1))))
	return 1
}

func (r *Runner) phase(L *lua.LState) int {
	L.Push(lua.LString(r.api.Phase()))
	return 1
}

// wait_phase(name, timeout_seconds) blocks until the phase matches.
func (r *Runner) waitPhase(L *lua.LState) int {
	want := session.Phase(L.CheckString(1))
	deadline := time.Now().Add(time.Duration(float64(L.OptNumber(2, 30)) * float64(time.Second)))
	for r.api.Phase() != want {
		if time.Now().After(deadline) {
			L.Push(lua.LFalse)
			return 1
		}
		if !r.wait(L, r.opts.PollInterval) {
			L.Push(lua.LFalse)
			return 1
		}
	}
	L.Push(lua.LTrue)
	return 1
}

func (r *Runner) sleep(L *lua.LState) int {
	d := time.Duration(float64(L.CheckNumber(1)) * float64(time.Second))
	if !r.wait(L, d) {
		L.RaiseError("script cancelled")
	}
	return 0
}

func (r *Runner) wait(L *lua.LState, d time.Duration) bool {
	ctx := L.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (r *Runner) log(L *lua.LState) int {
	logging.Info(r.opts.Logger, L.CheckString(1), "player", r.api.ID(), "source", "script")
	return 0
}
