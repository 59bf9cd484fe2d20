// Package domain defines the core domain types and interfaces.
//
// Concept-oriented files (member.go, score.go, poll.go, event.go, errors.go)
// hold shared types and the storage/notification contracts. No implementation
// code beyond small pure helpers like QuorumFor.
// Interfaces live here so adapters and the app layer never import each other.
package domain
