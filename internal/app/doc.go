// Package app holds the gryaz vote use cases.
//
// Engine owns the poll state machine: nominations, votes, quorum, cooldown,
// expiry and score updates. Router maps inbound chat events onto the engine.
// Sweeper expires stale polls in the background. Everything here depends on
// domain interfaces, never on concrete adapters.
package app
