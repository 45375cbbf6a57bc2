// Package mapreduce is the pool-less, single-threaded embedded map
// evaluator of spec §4.6: compile N map functions once into a shared goja
// runtime, apply them repeatedly to (doc, meta) pairs, and bound each call
// by a cooperative, process-wide timeout without ever destroying the
// runtime.
package mapreduce

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/dop251/goja"
)

// logger is used the same sparing way internal/btree's sibling package store
// uses it: a discarded timed-out invocation is a recoverable condition worth
// one line, not the hot evaluation path.
var logger = log.Default()

// Outcome classifies one compiled function's result within a single Map
// call.
type Outcome int

const (
	Success Outcome = iota
	RuntimeError
)

// SyntaxError is returned by StartMapContext when a source fails to
// compile; per spec §4.6 no context is produced in that case.
type SyntaxError struct {
	Index   int
	Message string
}

func (e *SyntaxError) Error() string { return e.Message }

// Emission is one (key, value) pair produced by emit(), each already
// JSON-serialized (spec §4.6 step 5).
type Emission struct {
	Key   string
	Value string
}

// FunctionResult is one compiled function's outcome for one Map call.
type FunctionResult struct {
	Outcome      Outcome
	Emissions    []Emission
	ErrorMessage string
}

// ErrTimeout is returned by Map when any function exceeds the configured
// timeout. Per spec §4.6 step 7 / §7, a timeout fails the whole call: no
// partial result list is produced, and the context remains usable.
var ErrTimeout = errors.New("mapreduce: timeout")

var (
	timeoutMu sync.Mutex
	timeoutMs = 5000
)

// SetTimeout sets the process-wide map timeout in milliseconds. It is safe
// to call concurrently with in-flight Map calls; per spec §5 the change
// only affects invocations that start afterward.
func SetTimeout(ms int) {
	timeoutMu.Lock()
	timeoutMs = ms
	timeoutMu.Unlock()
}

func currentTimeout() time.Duration {
	timeoutMu.Lock()
	ms := timeoutMs
	timeoutMu.Unlock()
	return time.Duration(ms) * time.Millisecond
}

// Context holds one shared goja runtime and the N compiled map functions
// it evaluates against. Not safe for concurrent use from multiple
// goroutines (spec §5: "strictly single-evaluator").
type Context struct {
	vm            *goja.Runtime
	fns           []goja.Callable
	jsonParse     goja.Callable
	jsonStringify goja.Callable
}

// StartMapContext compiles each source as a function expression in a
// fresh runtime preloaded with the emit/sum/decodeBase64/dateToArray
// prelude. Any compile failure aborts immediately with a *SyntaxError;
// no partial context is returned.
func StartMapContext(sources []string) (*Context, error) {
	vm := goja.New()
	installPrelude(vm)

	parseFn, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("parse"))
	if !ok {
		return nil, errors.New("mapreduce: JSON.parse is not a function")
	}
	stringifyFn, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("stringify"))
	if !ok {
		return nil, errors.New("mapreduce: JSON.stringify is not a function")
	}

	fns := make([]goja.Callable, 0, len(sources))
	for i, src := range sources {
		val, err := vm.RunString("(" + src + ")")
		if err != nil {
			return nil, &SyntaxError{Index: i, Message: err.Error()}
		}
		fn, ok := goja.AssertFunction(val)
		if !ok {
			return nil, &SyntaxError{Index: i, Message: "map function source did not evaluate to a function"}
		}
		fns = append(fns, fn)
	}

	return &Context{vm: vm, fns: fns, jsonParse: parseFn, jsonStringify: stringifyFn}, nil
}

// Map evaluates every compiled function against the same (docJSON,
// metaJSON) pair, returning one FunctionResult per function in compile
// order (spec invariant 5: the result list always has length N). Any
// single timeout discards the whole call.
func (c *Context) Map(docJSON, metaJSON string) ([]FunctionResult, error) {
	results := make([]FunctionResult, len(c.fns))
	for i, fn := range c.fns {
		res, timedOut, err := c.invoke(fn, docJSON, metaJSON)
		if err != nil {
			return nil, err
		}
		if timedOut {
			logger.Printf("mapreduce: function %d exceeded timeout, discarding call", i)
			return nil, ErrTimeout
		}
		results[i] = res
	}
	return results, nil
}

func (c *Context) invoke(fn goja.Callable, docJSON, metaJSON string) (FunctionResult, bool, error) {
	docVal, err := c.jsonParse(goja.Undefined(), c.vm.ToValue(docJSON))
	if err != nil {
		return FunctionResult{Outcome: RuntimeError, ErrorMessage: err.Error()}, false, nil
	}
	metaVal, err := c.jsonParse(goja.Undefined(), c.vm.ToValue(metaJSON))
	if err != nil {
		return FunctionResult{Outcome: RuntimeError, ErrorMessage: err.Error()}, false, nil
	}

	var emissions []Emission
	c.vm.Set("emit", func(call goja.FunctionCall) goja.Value {
		keyJSON, _ := c.jsonStringify(goja.Undefined(), call.Argument(0))
		valJSON, _ := c.jsonStringify(goja.Undefined(), call.Argument(1))
		emissions = append(emissions, Emission{Key: asString(keyJSON), Value: asString(valJSON)})
		return goja.Undefined()
	})

	timeout := currentTimeout()
	timer := time.AfterFunc(timeout, func() {
		c.vm.Interrupt("timeout")
	})
	_, callErr := fn(goja.Undefined(), docVal, metaVal)
	timer.Stop()

	if callErr != nil {
		if _, ok := callErr.(*goja.InterruptedError); ok {
			c.vm.ClearInterrupt()
			return FunctionResult{}, true, nil
		}
		if exc, ok := callErr.(*goja.Exception); ok {
			return FunctionResult{Outcome: RuntimeError, ErrorMessage: exc.Value().String()}, false, nil
		}
		return FunctionResult{Outcome: RuntimeError, ErrorMessage: callErr.Error()}, false, nil
	}

	return FunctionResult{Outcome: Success, Emissions: emissions}, false, nil
}

func asString(v goja.Value) string {
	if v == nil {
		return ""
	}
	return v.String()
}

// FreeContext disposes the evaluator state. goja runtimes have no external
// resources to release explicitly; this exists so callers have a single,
// symmetric lifecycle call to make (spec §4.6: start/free_context).
func FreeContext(ctx *Context) {
	*ctx = Context{}
}
