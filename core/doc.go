// Package core defines the shared data model of AgentRelay: the inbound
// ChatRequest with its routing hints, agent descriptors, the closed
// StreamEvent union that forms the outbound wire protocol, and the error
// taxonomy used by every dispatch strategy. All other packages depend on
// core; core depends on nothing above the standard library and the JSON
// codec.
package core
