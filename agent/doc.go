// Package agent implements the orchestrating Agent: it owns a conversation
// log, an ordered set of capability modules, a per-agent tool table and token
// accounting, and drives one turn at a time through the completion service.
//
// A turn moves through the states
//
//	Idle -> AwaitingCompletion -> (reply | ExecutingTools -> AwaitingCompletion ...) -> Idle
//
// Turns are not re-entrant. A RunTurn call made while another turn of the
// same agent is in flight fails immediately with core.ErrAgentBusy.
//
// Agents register themselves with the registry passed to New. Tools resolve
// their caller through that registry, never through a package-level global.
package agent
