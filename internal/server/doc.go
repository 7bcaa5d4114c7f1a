// Package server implements the HTTP API of the automation engine
//
// This package provides REST endpoints for running flows, suites, and
// workflows, for stopping active runs, for scheduler and webhook triggers,
// and a WebSocket stream of run events
package server
