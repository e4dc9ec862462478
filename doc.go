// Package pdfmill reads, validates, transforms and rewrites PDF
// documents.
//
// The core object model, parser and encryption support live in the core
// package; the writer package produces standard, object-stream and
// linearized output from parsed or constructed documents.
package pdfmill
