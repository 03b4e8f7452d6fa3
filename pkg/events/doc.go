/*
Package events routes cross-device events to explicitly registered handlers.

Handlers are grouped by a target type (the engine uses "flow/state" and
"flow/Global") and declare which relationships they listen to:

  - SELF: the event originated on the receiving device.
  - PARENT: the event originated on the receiver's registered parent.
  - PAIRED: the event originated on a device paired with, or a child of, the receiver.

An event reaches a handler when its type passes the handler's filter and at least
one computed relationship is among the declared sources. A handler runs at most
once per event, however many of its sources match.
*/
package events
