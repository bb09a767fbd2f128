// Package agentloop is the conversational core of coderoute.
//
// It pairs a completion endpoint with a set of capabilities the model may
// call, and keeps the transcript and token budget of one session.
//
// # Architecture
//
//   - Capability: the contract every tool satisfies. Func adapts a
//     descriptor and an executor into one.
//   - Registry: aggregates Sources (a BuiltinSource registration table, the
//     plugins package) into an immutable snapshot that Refresh swaps atomically.
//   - Dispatcher: resolves and runs calls, turning not-found names, bad
//     arguments, errors and panics into Outcome data.
//   - ConversationStore: the append-only transcript and its wire projection.
//   - CompletionLoop: the iterative request/dispatch cycle bounded by the
//     TokenBudget and a round-trip limit.
//   - Session: commands, model selection and export on top of the loop.
//   - EventEmitter: typed events for the host application.
//
// # Quick Start
//
//	session, err := agentloop.NewSession(ctx, agentloop.DefaultSessionConfig(),
//	    agentloop.WithProfiles(profiles),
//	    agentloop.WithSources(agentloop.NewBuiltinSource(tools.Builtins(env, opts)...)),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer session.Close()
//
//	reply, err := session.Send(ctx, agentloop.TextInput("List the Go files here"))
package agentloop
