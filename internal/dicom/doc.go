// Package dicom owns the protocol data model shared by the transport and the
// service dispatcher.
//
// Ownership boundary:
// - abstract syntax (SOP class) and transfer syntax catalogues
// - presentation contexts and negotiation results
// - association parameters
// - reject/abort codes
// - request/response messages exchanged over an open association
//
// Wire encoding of these values belongs to package network.
package dicom
