/*
Package tillflow is a conversation state machine engine for retail terminals: point-of-sale lanes, self-checkouts, kiosks and the handhelds paired with them.

Every device runs its own conversation, a walk through a graph of named states. Actions (a scanned item, a key press, a payment approval) move the conversation from one state to the next, and every state that becomes active hands a screen to the host's presenter.

# Concept

Flows are declared as data, either with the builder in package dsl or as a YAML/JSON document loaded by package flowfile, and compiled once into an immutable graph. Behaviors are bound to states through a registry of implementation ids, so the same flow can drive a real terminal or a test double.

The engine adds a few things on top of a plain state graph:

  - Subflows: a transition may enter an embedded flow (payment, age check) with its own scope, and resume the parent flow when the subflow raises one of its return actions.
  - Global actions: flow-wide mappings such as "Cancel" that apply when the active state does not handle an action.
  - Before hooks: checks attached to a target state that run before it is entered, and can veto the transition.
  - Transition steps: cross-cutting interceptors that may stall an arrival (waiting for a scale, a supervisor, a network call) and resume it later through a Handle.
  - Event broadcasting: events raised on one device reach handlers on the same device, its parent and its children, according to a topology.

All work for a device is serialized on that device's goroutine, so states never need locking; different devices run concurrently.

# Usage

	b := dsl.New()
	b.Flow("Main").State("Idle").On("Scan", "Basket")

	eng, err := tillflow.New(b.Source(), "Main", reg, tillflow.WithPresenter(screen))
	if err != nil {
		log.Fatal(err)
	}
	defer eng.Close(ctx)

	_ = eng.Begin(ctx, "lane-3", nil)
	_ = eng.DoAction(ctx, "lane-3", "Scan", sku)

Errors raised while processing an action are returned by DoAction and passed to the error handler, which by default presents a domain.RecoveryScreen so the device never goes blank.

# Persistence

With WithSessions, a JSON snapshot of each conversation (flow stack, state, pending step and the portable part of the device scope) is written after every processed action, to memory or Redis. Snapshots are meant for inspection and for handing a device over to support tooling, not for resuming a conversation.
*/
package tillflow
