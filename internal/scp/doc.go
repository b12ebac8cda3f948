// Package scp negotiates presentation contexts for a listening application
// entity and dispatches the operations of each accepted association to the
// service handler bound to its presentation context.
//
// An Scp polls its Registry for handlers when it starts, merges their
// declared SOP class and transfer syntax pairs into one proposable context
// per SOP class and orders every candidate list by CompareTransferSyntax.
// Each inbound association gets its own AssociationHandler, which applies
// the verification callback and per-handler vetoes, binds accepted contexts
// to handlers, runs operations on a shared worker pool and reports the
// received objects once the association ends.
package scp
