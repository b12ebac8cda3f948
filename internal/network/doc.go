// Package network owns the association transport.
//
// Ownership boundary:
// - TCP (optionally TLS) listeners keyed by port and called AE title
// - transfer syntax selection against a listener's proposable contexts
// - the per-connection reader loop driving ServerHandler callbacks
// - outbound accept/reject/abort/response messages
// - the SCU client used by tools and tests
//
// Service dispatch is not owned here; a StartAssociation factory supplies one
// ServerHandler per accepted connection.
package network
