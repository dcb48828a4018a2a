// Package orchestrate provides a workflow orchestration core: it accepts
// declarative multi-step task graphs, schedules and executes tasks
// respecting dependency and branching constraints, tracks execution
// state durably, and applies saga compensation and retry policies when
// tasks fail.
//
// The engine is a library, not a service. Register task handlers,
// configure a store, register a workflow definition, and drive
// instances through the orchestrator package:
//
//	o, err := orchestrator.New(
//		orchestrator.WithStore(memory.New()),
//		orchestrator.WithLogger(logger),
//	)
//	...
//	o.RegisterHandler("payment.charge", chargeHandler)
//	def, err := o.RegisterDefinition(ctx, "checkout", tasks)
//	...
//	if err := o.Start(ctx); err != nil { ... }
//	inst, err := o.Submit(ctx, def.ID)
//
// Transport surfaces (REST, WebSocket), authentication, and metric
// exporters are external collaborators wired around this core.
package orchestrate
