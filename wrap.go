package sybilscope

import (
	"context"
	"errors"
	"fmt"
)

// WrapFunc instruments fn as an agent span. Each call opens a PROCESS event
// recording the function name and input under "args", runs fn with the span
// on the context, and closes the span with the output under "result".
// Errors and panics from fn close the span with an ERROR event and
// propagate unchanged.
func WrapFunc[I, O any](t *Tracer, name string, fn func(context.Context, I) (O, error)) func(context.Context, I) (O, error) {
	return func(ctx context.Context, in I) (O, error) {
		return runWrapped(ctx, t, TraceAgent, ActionProcess,
			Payload{"function": name, "args": in}, "result", in, fn)
	}
}

// WrapTool instruments fn as a tool span: a CALL event with the tool name
// and arguments, closed with the result.
func WrapTool[I, O any](t *Tracer, name string, fn func(context.Context, I) (O, error)) func(context.Context, I) (O, error) {
	return func(ctx context.Context, in I) (O, error) {
		return runWrapped(ctx, t, TraceTool, ActionCall,
			Payload{"name": name, "args": in}, "result", in, fn)
	}
}

// WrapLLM instruments fn as an LLM span: a REQUEST event with the model
// name and arguments, closed with the response.
func WrapLLM[I, O any](t *Tracer, model string, fn func(context.Context, I) (O, error)) func(context.Context, I) (O, error) {
	return func(ctx context.Context, in I) (O, error) {
		return runWrapped(ctx, t, TraceLLM, ActionRequest,
			Payload{"model": model, "args": in}, "response", in, fn)
	}
}

func runWrapped[I, O any](ctx context.Context, t *Tracer, typ TraceType, action ActionType, open Payload, resultKey string, in I, fn func(context.Context, I) (O, error)) (O, error) {
	var out O
	ctx, span, err := t.Start(ctx, typ, action, open)
	if err != nil {
		return out, err
	}
	defer func() {
		if v := recover(); v != nil {
			span.close(ActionError, Payload{
				"error":      fmt.Sprint(v),
				"error_type": "panic",
			})
			panic(v)
		}
	}()
	out, err = fn(ctx, in)
	if err != nil {
		if cerr := span.Fail(err); cerr != nil {
			return out, errors.Join(err, cerr)
		}
		return out, err
	}
	if cerr := span.close(ActionEnd, Payload{resultKey: out}); cerr != nil {
		return out, cerr
	}
	return out, nil
}
