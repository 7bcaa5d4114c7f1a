// Package flow executes ordered browser step sequences
//
// A Runner owns exactly one browser session for the duration of one run. It
// resolves page-object selector references, heals failed click and type
// targets from the step description, delegates visual assertions to the
// comparator, and captures every run outcome as an api.FlowResult
package flow
