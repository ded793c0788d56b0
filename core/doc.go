// Package core provides the foundational domain types shared by every swarmer
// package: agent identities, conversation messages, tool call requests, token
// usage counters and the runtime error taxonomy.
//
// The package deliberately carries no behavior beyond small value helpers so
// that registry, module, flow and agent code can depend on it without import
// cycles. Higher layers build the turn loop, tool dispatch and persistence on
// top of these types.
package core
