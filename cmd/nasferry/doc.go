// Package main hosts the nasferry CLI entrypoint and command graph.
//
// The Cobra command tree resolves configuration once, builds the logger,
// store, SFTP dialer, and metrics registry on demand, and hands them to the
// internal pipeline packages: syncer for sync and bootstrap, routing for
// route and files unmatched, integrity for verify and files hash, shows for
// the show registry, and api for serve. Commands that move data hold the run
// lock in the state directory so scheduled and manual runs never overlap.
//
// Only run-aborting failures produce a non-zero exit. Per-file failures are
// reported in the command output and stay eligible for the next run.
package main
