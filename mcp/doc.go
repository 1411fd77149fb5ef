// Package mcp defines the wire-level protocol types shared by providers
// and the host: method names, handshake messages, capability descriptors
// (tools, resources, resource templates, prompts), and their request and
// result payloads. The package is dependency-free; framing and the
// JSON-RPC envelope live in internal/jsonrpc.
package mcp
