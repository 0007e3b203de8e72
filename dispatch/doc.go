// Package dispatch is the routing heart of AgentRelay. For each inbound
// chat request it classifies the message against the available agents,
// selects exactly one execution strategy (local tool backend, remote
// single-agent delegation, or multi-agent plan orchestration), registers a
// cancellation handle for the request, and supervises the strategy's event
// stream through to its terminal event.
package dispatch
