/*
Package domain contains the core domain models of the tillflow conversation engine.

It defines the compiled flow graph (FlowDefinition, StateDescriptor, SubflowDescriptor),
the declarations the graph is compiled from, the behavior contracts implemented by
business states, the cross-device event model and the error taxonomy. The package is
kept free of I/O and persistence concerns.

# Key Entities

  - FlowDefinition: a validated graph of states and action transitions.
  - StateDescriptor: one named state of a flow and its action map.
  - SubflowDescriptor: an embedded flow entered through a transition and left through return actions.
  - Declaration: the already-parsed authoring input handed to the graph builder.
  - Action: a named event submitted into a device's conversation.
  - Registration: an explicit cross-device event handler (sources, type filters, function).
  - Snapshot: a serializable view of a conversation, used for inspection and persistence.
*/
package domain
