// Package provider implements the server side of the protocol: a
// registration surface through which callables, resources, resource
// templates, and prompt templates become advertised capabilities, plus
// the dispatch core that answers the fixed capability methods over any
// transport (in-process frames, stdio, or streamed HTTP).
//
// The host never imports this package's internals; it only sees the
// capability records a provider advertises during the handshake.
package provider
