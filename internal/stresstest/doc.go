/*
Package stresstest drives load against a search service and feeds every outcome to statistics.

# Overview

The stresstest package implements the execution engine of searchmeter:
  - One Executor per operation kind (query, update, optimize)
  - A Scope that owns the executors and statistic sinks of the current test
  - Error classification of failed calls
  - Run persistence in SQLite

# Architecture

1. Executor (executor.go): worker pool for one kind of operation
2. Scope (scope.go): build, start, stop and restart of a whole test
3. Manager (manager.go): database operations for runs, observations and snapshots
4. Config (config.go): executor configuration, plans and validation

# Executor Design

Each worker repeats the same loop until stopped:
  1. Wait on the pacing controller
  2. Pull a payload from the source
  3. Issue the operation and time it
  4. Publish one Observation to every statistic attached to the kind

A failed operation is an observation, never a reason for the worker to exit. A worker only exits
when the executor is stopped or when a non-repeatable source is exhausted. A repeatable source
that fails produces an Observation with Issued=false and category Other.

Two contexts control a run. The first one is cancelled by Stop and interrupts pacing waits at
once. The second one is handed to the issuer and is only cancelled when in-flight calls outlive
the drain timeout; the worker then publishes an Aborted observation in place of the call's result.

# Scope Lifecycle

	scope := NewScope(provider, statistics.NewRegistry(), WithManager(manager))
	if err := scope.Restart(ctx); err != nil {
		// *BuildError: some components failed, the others were built
	}
	if err := scope.Start(ctx); err != nil {
		return err
	}
	...
	scope.Stop(ctx)

Restart always builds from a fresh Plan, so sources restart from the beginning and every statistic
starts from zero. Observations from a torn-down build never reach the sinks of the next one.

# Database Schema

SQLite database stores:
  - stress_runs: one row per started test
  - stress_observations: observations written by the history statistic
  - stress_run_statistics: final statistic snapshots of each run

# Thread Safety

All public methods of Manager, Executor and Scope are safe for concurrent use.
Restart, Start, Stop and Close on a Scope are serialized.
*/
package stresstest
