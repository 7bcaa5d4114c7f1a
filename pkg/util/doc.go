// Package util provides small generic data structures shared by the engine
// packages, such as the Set used for graph traversal bookkeeping
package util
