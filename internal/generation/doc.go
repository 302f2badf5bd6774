// Package generation owns the lifecycle of versioned cache stores. A Manager
// maps the build-time generation id to one store name and drives the explicit
// state machine
//
//	Uninstalled -> Installing -> Installed -> Active
//
// Install warms the generation's store from the manifest as an all-or-nothing
// batch; Activate makes that store the serving one and deletes every other
// store in the Registry. The controller must not call Activate while Install is
// still running; the Manager reports that ordering mistake with
// ErrNotInstalled instead of guarding it with a lock across both operations.
package generation
