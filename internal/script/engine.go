package script

import (
	"context"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/Fenveireth/lightspark/internal/security"
	"github.com/Fenveireth/lightspark/internal/urlinfo"
)

// Config defines engine configuration.
type Config struct {
	Timeout time.Duration // Per-run execution timeout
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{Timeout: 5 * time.Second}
}

// LogEntry represents captured console output.
type LogEntry struct {
	Level   string
	Message string
	Time    time.Time
}

// Result holds one execution's outcome.
type Result struct {
	Value    any
	Console  []LogEntry
	Duration time.Duration
	Error    error
}

// Engine wraps a goja VM with the security API of one session bound
// into its global scope. One run at a time; Execute serializes.
type Engine struct {
	vm      *goja.Runtime
	manager *security.Manager
	config  Config
	mu      sync.Mutex

	runCtx context.Context // Valid only while a run is active

	console   []LogEntry
	consoleMu sync.Mutex

	interrupt chan struct{}
}

// New creates an engine bound to manager.
func New(manager *security.Manager, cfg Config) *Engine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}

	e := &Engine{
		vm:        goja.New(),
		manager:   manager,
		config:    cfg,
		interrupt: make(chan struct{}),
	}
	e.setupGlobals()
	return e
}

// Execute runs script with the per-run timeout and returns its result
// with captured console output.
func (e *Engine) Execute(ctx context.Context, script string) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	result := &Result{}

	// A previous interrupt must not leak into this run.
	e.vm.ClearInterrupt()
	e.runCtx = ctx
	defer func() { e.runCtx = nil }()

	timer := time.NewTimer(e.config.Timeout)
	defer timer.Stop()

	go func() {
		select {
		case <-timer.C:
			e.vm.Interrupt("execution timeout exceeded")
		case <-ctx.Done():
			e.vm.Interrupt("context cancelled")
		case <-e.interrupt:
			return
		}
	}()

	e.consoleMu.Lock()
	e.console = nil
	e.consoleMu.Unlock()

	val, err := e.vm.RunString(script)

	close(e.interrupt)
	e.interrupt = make(chan struct{})

	result.Duration = time.Since(start)

	e.consoleMu.Lock()
	result.Console = append([]LogEntry{}, e.console...)
	e.consoleMu.Unlock()

	if err != nil {
		result.Error = err
		return result, err
	}

	result.Value = exportValue(val)
	return result, nil
}

// Close releases the VM.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.vm = nil
	e.console = nil
	return nil
}

// setupGlobals binds the security API and strips everything a policy
// script has no business touching.
func (e *Engine) setupGlobals() {
	e.vm.Set("require", goja.Undefined())
	e.vm.Set("process", goja.Undefined())
	e.vm.Set("module", goja.Undefined())
	e.vm.Set("exports", goja.Undefined())

	console := e.vm.NewObject()
	console.Set("log", e.makeConsoleFunc("log"))
	console.Set("warn", e.makeConsoleFunc("warn"))
	console.Set("error", e.makeConsoleFunc("error"))
	console.Set("info", e.makeConsoleFunc("info"))
	e.vm.Set("console", console)

	e.vm.Set("setTimeout", func(call goja.FunctionCall) goja.Value {
		return goja.Undefined()
	})
	e.vm.Set("setInterval", func(call goja.FunctionCall) goja.Value {
		return goja.Undefined()
	})

	sec := e.vm.NewObject()
	sec.Set("evaluateURL", e.jsEvaluateURL)
	sec.Set("evaluateHeader", e.jsEvaluateHeader)
	sec.Set("addPolicyFile", e.jsAddPolicyFile)
	sec.Set("loadPolicyFile", e.jsLoadPolicyFile)
	sec.Set("sandbox", e.jsSandbox)
	sec.Set("setSandbox", e.jsSetSandbox)
	sec.Set("exactSettings", e.jsExactSettings)
	e.vm.Set("security", sec)
}

func (e *Engine) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		var msg string
		for i, arg := range call.Arguments {
			if i > 0 {
				msg += " "
			}
			msg += arg.String()
		}

		e.consoleMu.Lock()
		e.console = append(e.console, LogEntry{
			Level:   level,
			Message: msg,
			Time:    time.Now(),
		})
		e.consoleMu.Unlock()

		return goja.Undefined()
	}
}

func (e *Engine) ctx() context.Context {
	if e.runCtx != nil {
		return e.runCtx
	}
	return context.Background()
}

// throw raises err as a JS exception.
func (e *Engine) throw(err error) {
	panic(e.vm.NewGoError(err))
}

func (e *Engine) parseURL(raw string) urlinfo.Info {
	u, err := urlinfo.Parse(raw)
	if err != nil {
		e.throw(err)
	}
	return u
}

func (e *Engine) verdictValue(v security.Verdict) goja.Value {
	return e.vm.ToValue(map[string]any{
		"verdict": string(v),
		"granted": v.Granted(),
		"reason":  v.Reason(),
	})
}

func (e *Engine) policyValue(f *security.URLPolicyFile) goja.Value {
	if f == nil {
		return goja.Null()
	}
	return e.vm.ToValue(map[string]any{
		"id":          f.ID().String(),
		"url":         f.URL().String(),
		"originalUrl": f.OriginalURL().String(),
		"master":      f.IsMaster(),
		"loaded":      f.IsLoaded(),
		"valid":       f.IsValid(),
		"ignored":     f.IsIgnored(),
	})
}

// optionsFrom exports an optional JS options argument into a map.
func optionsFrom(arg goja.Value) map[string]any {
	if arg == nil || goja.IsUndefined(arg) || goja.IsNull(arg) {
		return nil
	}
	opts, _ := arg.Export().(map[string]any)
	return opts
}

func boolOption(opts map[string]any, key string, def bool) bool {
	if v, ok := opts[key].(bool); ok {
		return v
	}
	return def
}

func (e *Engine) maskOption(opts map[string]any, key string, def security.Sandbox) security.Sandbox {
	raw, ok := opts[key].([]any)
	if !ok {
		return def
	}
	names := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			names = append(names, s)
		}
	}
	mask, err := security.ParseSandboxMask(names)
	if err != nil {
		e.throw(err)
	}
	return mask
}

// security.evaluateURL(target[, {loadPending, allowedRemote,
// allowedLocal, restrictLocalDirectory}]) -> {verdict, granted, reason}
func (e *Engine) jsEvaluateURL(call goja.FunctionCall) goja.Value {
	target := e.parseURL(call.Argument(0).String())
	opts := optionsFrom(call.Argument(1))

	eval := security.Evaluation{
		LoadPending:            boolOption(opts, "loadPending", true),
		AllowedRemote:          e.maskOption(opts, "allowedRemote", security.SandboxRemote),
		AllowedLocal:           e.maskOption(opts, "allowedLocal", security.LocalSandboxes),
		RestrictLocalDirectory: boolOption(opts, "restrictLocalDirectory", false),
	}
	return e.verdictValue(e.manager.EvaluateURL(e.ctx(), target, eval))
}

// security.evaluateHeader(target, header[, {loadPending}]) ->
// {verdict, granted, reason}
func (e *Engine) jsEvaluateHeader(call goja.FunctionCall) goja.Value {
	target := e.parseURL(call.Argument(0).String())
	header := call.Argument(1).String()
	opts := optionsFrom(call.Argument(2))

	v := e.manager.EvaluateHeader(e.ctx(), target, header, boolOption(opts, "loadPending", true))
	return e.verdictValue(v)
}

// security.addPolicyFile(url) -> policy object, or null for local URLs
func (e *Engine) jsAddPolicyFile(call goja.FunctionCall) goja.Value {
	return e.policyValue(e.manager.AddPolicyFile(call.Argument(0).String()))
}

// security.loadPolicyFile(url) -> policy object after the load; throws
// when the file was already loaded
func (e *Engine) jsLoadPolicyFile(call goja.FunctionCall) goja.Value {
	f := e.manager.AddPolicyFile(call.Argument(0).String())
	if f == nil {
		return goja.Null()
	}
	if err := e.manager.LoadPolicyFile(e.ctx(), f); err != nil {
		e.throw(err)
	}
	return e.policyValue(f)
}

// security.sandbox() -> active sandbox name
func (e *Engine) jsSandbox(call goja.FunctionCall) goja.Value {
	return e.vm.ToValue(e.manager.SandboxType().Name())
}

// security.setSandbox(name) reclassifies the content; throws on an
// unknown name
func (e *Engine) jsSetSandbox(call goja.FunctionCall) goja.Value {
	s, err := security.ParseSandbox(call.Argument(0).String())
	if err != nil {
		e.throw(err)
	}
	e.manager.SetSandboxType(s)
	return goja.Undefined()
}

// security.exactSettings() reads the latch;
// security.exactSettings(value[, lock]) writes it
func (e *Engine) jsExactSettings(call goja.FunctionCall) goja.Value {
	if len(call.Arguments) > 0 {
		value := call.Argument(0).ToBoolean()
		lock := false
		if len(call.Arguments) > 1 {
			lock = call.Argument(1).ToBoolean()
		}
		e.manager.SetExactSettings(value, lock)
	}
	return e.vm.ToValue(map[string]any{
		"value":  e.manager.ExactSettings(),
		"locked": e.manager.ExactSettingsLocked(),
	})
}

func exportValue(val goja.Value) any {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil
	}
	return val.Export()
}
