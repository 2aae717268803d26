// Package flowengine executes automation flows.
//
// The engine receives a match (event paired with an automation) from the
// trigger matcher, re-fetches the automation, gates it against the owner's
// plan, validates and compiles the flow graph, then walks one path from the
// trigger node. Condition nodes choose the outgoing edge through their
// branch handle; action nodes perform side effects through the registered
// executors. Walking off the graph is a successful completion.
package flowengine
