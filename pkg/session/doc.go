/*
Package session coordinates persistence of conversation snapshots.

The engine saves a snapshot after every processed action. Manager serializes
those writes per device with reference-counted local locks, optionally combined
with a distributed lock, so that several engine replicas can share one store.
*/
package session
