// Package script runs operator-supplied JavaScript rules on creature hook
// events inside a pool of locked-down goja VMs.
package script

import (
	"context"
	"errors"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// ErrTimeout is returned when a script exceeds the execution time limit.
var ErrTimeout = errors.New("script: execution timed out")

// ErrPanic is returned when the VM panics while running a script.
var ErrPanic = errors.New("script: vm panic")

// Bindings are globals visible to one script run. They are removed again
// before the VM goes back to the pool.
type Bindings map[string]any

// VMPool is a thread-safe pool of pre-initialised goja runtimes.
type VMPool struct {
	pool    chan *goja.Runtime
	timeout time.Duration
	size    int
}

// NewVMPool creates a VMPool with the given concurrency size and per-script timeout.
func NewVMPool(size int, timeout time.Duration) *VMPool {
	if size <= 0 {
		size = 2
	}
	if timeout <= 0 {
		timeout = 50 * time.Millisecond
	}
	p := &VMPool{
		pool:    make(chan *goja.Runtime, size),
		timeout: timeout,
		size:    size,
	}
	for i := 0; i < size; i++ {
		p.pool <- newSafeVM()
	}
	return p
}

// Run executes src inside a pooled VM with b bound as globals and returns the
// exported value of the last expression.
func (p *VMPool) Run(ctx context.Context, src string, b Bindings) (any, error) {
	select {
	case vm := <-p.pool:
		return p.runVM(vm, src, b)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *VMPool) runVM(vm *goja.Runtime, src string, b Bindings) (any, error) {
	for name, v := range b {
		_ = vm.Set(name, v)
	}
	timer := time.AfterFunc(p.timeout, func() { vm.Interrupt(ErrTimeout) })

	var (
		result goja.Value
		runErr error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				runErr = ErrPanic
			}
		}()
		result, runErr = vm.RunString(src)
	}()
	timer.Stop()

	var interrupted *goja.InterruptedError
	if errors.As(runErr, &interrupted) || runErr == ErrPanic {
		// The VM is tainted; replace it.
		p.pool <- newSafeVM()
		if runErr == ErrPanic {
			return nil, ErrPanic
		}
		return nil, ErrTimeout
	}

	for name := range b {
		_ = vm.Set(name, goja.Undefined())
	}
	vm.ClearInterrupt()
	p.pool <- vm

	if runErr != nil {
		var ex *goja.Exception
		if errors.As(runErr, &ex) {
			return nil, errors.New(ex.Error())
		}
		return nil, runErr
	}
	if result == nil || goja.IsUndefined(result) || goja.IsNull(result) {
		return nil, nil
	}
	return result.Export(), nil
}

// newSafeVM creates a goja Runtime with host access and nondeterminism
// removed, so every node reaches the same verdict.
func newSafeVM() *goja.Runtime {
	vm := goja.New()
	for _, name := range []string{"require", "process", "fetch", "XMLHttpRequest", "eval", "Function", "Date"} {
		_ = vm.Set(name, goja.Undefined())
	}
	if m := vm.Get("Math"); m != nil {
		_ = m.ToObject(vm).Set("random", func() float64 { return 0 })
	}
	return vm
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Sandbox wraps a VMPool and logs script failures.
type Sandbox struct {
	pool   *VMPool
	logger *zap.Logger
}

// NewSandbox creates a Sandbox backed by a VMPool.
func NewSandbox(size int, timeout time.Duration, logger *zap.Logger) *Sandbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sandbox{pool: NewVMPool(size, timeout), logger: logger}
}

// Eval executes src with the given bindings, returning the result.
func (sb *Sandbox) Eval(ctx context.Context, src string, b Bindings) (any, error) {
	result, err := sb.pool.Run(ctx, src, b)
	if err != nil {
		sb.logger.Warn("script execution error",
			zap.String("src_preview", truncate(src, 80)),
			zap.Error(err))
	}
	return result, err
}
