// Package event provides the synchronous pub-sub bus through which the
// execution core reports progress to downstream collaborators such as
// reporters and the CLI.
//
// # Main Types
//
//   - [Event]: Interface that all events implement, providing EventType() and Timestamp()
//   - [Bus]: Synchronous dispatcher with thread-safe subscription management
//   - [Handler]: Function type for event handlers (func(Event))
//
// # Event Categories
//
// Run: [RunStartedEvent], [RunFinishedEvent]
//
// Test: [TestStartedEvent], [TestRetryingEvent], and [TestFinishedEvent],
// which is published exactly once per unit with its terminal state.
//
// Scope: [ScopeStartedEvent], [ScopeFinishedEvent], [HookFailedEvent]
//
// # Usage
//
//	bus := event.NewBus(logger)
//	bus.Subscribe(event.TypeTestFinished, func(e event.Event) {
//	    fin := e.(event.TestFinishedEvent)
//	    fmt.Println(fin.UnitID, fin.State)
//	})
//
// Handlers run on the publishing goroutine; the scheduler publishes from
// many goroutines at once, so handlers must be safe for concurrent use.
package event
