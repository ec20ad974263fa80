package mcp

import (
	"fmt"
	"strings"
)

// Transport selects how MCP clients reach the server.
type Transport string

// Supported transports.
const (
	TransportStdio          Transport = "stdio"
	TransportSSE            Transport = "sse"
	TransportStreamableHTTP Transport = "streamable-http"
	// TransportCombined serves SSE and streamable HTTP on one listener.
	TransportCombined Transport = "combined"
)

// Transports lists every supported transport.
func Transports() (transports []Transport) {
	transports = []Transport{TransportStdio, TransportSSE, TransportStreamableHTTP, TransportCombined}
	return transports
}

// ParseTransport parses a transport name. "http" is accepted for streamable-http.
func ParseTransport(name string) (transport Transport, err error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "http" {
		normalized = string(TransportStreamableHTTP)
	}

	for _, candidate := range Transports() {
		if string(candidate) == normalized {
			transport = candidate
			return transport, err
		}
	}

	err = fmt.Errorf("unknown transport %q (expected one of stdio, sse, streamable-http, combined)", name)
	return transport, err
}

// IsHTTP reports whether the transport needs an HTTP listener.
func (t Transport) IsHTTP() (isHTTP bool) {
	isHTTP = t != TransportStdio
	return isHTTP
}

// ServesSSE reports whether the SSE endpoint is mounted.
func (t Transport) ServesSSE() (ok bool) {
	ok = t == TransportSSE || t == TransportCombined
	return ok
}

// ServesStreamable reports whether the streamable HTTP endpoint is mounted.
func (t Transport) ServesStreamable() (ok bool) {
	ok = t == TransportStreamableHTTP || t == TransportCombined
	return ok
}
