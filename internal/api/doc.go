// Package api exposes the guardrail engine over HTTP/JSON: catalog search,
// quotes, order preview/confirmation/payment, settlement verification, the
// single-call purchase, wallet linking, the tool-call surface and a capability
// discovery document.
package api
