// Package agent contains the guardrail engine shared by the tool-call and HTTP
// surfaces. It decides, from free-text user input and session state, whether a
// purchase may proceed, which warnings must be surfaced, and when a preview has
// gone stale. Catalog, ledger and storage are injected collaborators.
package agent
