/*
Package ports defines the driven ports (interfaces) of the tillflow engine.

These interfaces decouple the conversation core from its surroundings: how screens
reach a device, how device relationships are discovered and where conversation
snapshots are kept.

# Key Interfaces

  - Presenter: receives the screen of every state that becomes active.
  - TopologyProvider: answers which device is the parent of, or paired with, another.
  - SnapshotStore: persists conversation snapshots for inspection and recovery.
  - DistributedLocker: coordinates snapshot writes across engine replicas.
*/
package ports
