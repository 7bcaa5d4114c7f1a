// Package script runs condition expressions and user-defined functions in a
// sandboxed Lua environment
//
// The io, os, debug and package libraries and the file and chunk loading
// functions are removed from every state before a chunk runs, so scripts can
// only compute over the values they are given
package script
