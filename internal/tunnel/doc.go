// Package tunnel manages the lifecycle of tunnel processes launched on behalf
// of CI builds.
//
// A build asks the Manager for a tunnel with OpenConnection, registers the
// returned handle under its owner key (build or plan name) with
// AddTunnelToMap, and tears everything down with CloseTunnelsForPlan when the
// build finishes.
//
// # Launching
//
// The Launcher serializes launches host-wide: one mutex is held from spawn
// until the readiness wait ends, so at most one tunnel binary is ever
// mid-handshake. Two goroutines copy the child's stdout and stderr to the
// build log and watch for the readiness token. The first token satisfies a
// single-use gate. If no token arrives before the readiness timeout, the
// launch logs a warning and returns the process anyway; a tunnel that is slow
// to report readiness must not fail the build.
//
// # Registry
//
// The Registry maps owner keys to the tunnels launched for them. RemoveAll
// detaches a key's tunnels in one step; callers terminate them afterwards.
// A tunnel belongs to at most one key.
//
// # Teardown
//
// Closing a TunnelProcess closes its stdin, stdout and stderr (each failure is
// logged, none aborts the rest) and then kills the process group. Bulk
// teardown keeps going when one tunnel fails to terminate.
package tunnel
