// Package tunnel provides tunnel provider management for Tunnel Manager.
//
// This package implements the core tunnel functionality including:
//
//   - Provider abstraction: one capability interface over unrelated backends
//   - Process supervision: spawning tunnel tools and parsing their output
//   - Mesh observation: read-only status of an externally managed VPN mesh
//   - Registry: runtime discovery of registered providers
//   - Watcher: periodic polling that drives live status indicators
//
// # Architecture
//
// The package is organized around four main types:
//
//   - Provider: the capability interface shared by all backends
//   - Supervisor: spawns and monitors one tunnel child process
//   - Registry: thread-safe id→provider map owned by the composition root
//   - Watcher: polls providers that have no supervising goroutine
//
// # Connection Flow
//
// A typical connection flow for a process-backed provider:
//
//  1. Caller picks a provider through the Registry
//  2. Caller invokes Connect with the local port to expose
//  3. The Supervisor spawns the tool and scans output for the public URL
//  4. Connect returns the URL; a monitor goroutine watches for early death
//  5. Status subscribers receive every transition in order
//
// The mesh provider differs deliberately: it only observes a connection
// owned by an external agent and never establishes or severs it.
//
// # Concurrency
//
// Only a provider's own supervising goroutine writes its status, so
// callers never take provider-level locks. The Registry carries its own
// mutual exclusion because it is called from arbitrary goroutines.
package tunnel
