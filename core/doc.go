// Package core defines the PDF object model and the machinery to read
// and resolve it: the tokenizer and parser, the cross-reference table
// with damage recovery, the compressed object stream reader, the stream
// filter implementations and the standard security handler.
package core
