// Package sybilscope records hierarchical trace events from AI agent
// workflows. It captures user inputs, agent reasoning spans, LLM calls, and
// tool invocations as structured events linked by parent ids, and persists
// them as JSON Lines that downstream viewers and CLIs consume without
// importing this module.
//
// Usage:
//
//	tracer, err := sybilscope.New()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer tracer.Close()
//
//	err = tracer.Trace(ctx, sybilscope.TraceAgent, sybilscope.ActionStart,
//		sybilscope.Payload{"name": "planner"},
//		func(ctx context.Context) error {
//			_, err := tracer.Log(ctx, sybilscope.TraceLLM, sybilscope.ActionRequest,
//				sybilscope.Payload{"model": "gpt-4o", "prompt": prompt})
//			return err
//		})
//
// Every span opened by Trace or Start is closed exactly once, with its
// duration, on every exit path including panics. Events reach the configured
// Backend synchronously; failures surface to the calling goroutine.
package sybilscope
