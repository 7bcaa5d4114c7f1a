// Package api defines the core data types shared by the automation engine
//
// This package contains flow steps and results, workflow graphs and their
// node payloads, run and node execution records, scheduled jobs, run events,
// and the HTTP request and response messages
package api
