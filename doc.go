// Package swoopin is a social-platform automation engine. It receives
// provider webhook events and polled YouTube comments, matches them
// against user-defined automations, and executes each automation's flow
// graph node by node: keyword conditions, direct messages, AI chat
// replies, carousels and comment replies.
//
// The repository layout:
//
//   - event: webhook payload normalization into a single event shape
//   - automation: the automation aggregate, stores and trigger matching
//   - flowgraph: graph validation, compilation and plan gating
//   - engine: node-by-node flow execution
//   - transcript: AI conversation history and chat continuation
//   - plan: subscription tiers and feature limits
//   - ingest: webhook receiver, JetStream consumer, pipeline, management API
//   - poller: YouTube comment polling
//   - provider: Messenger graph API, Gemini AI and YouTube clients
//   - counter, dedup: activity counters and event deduplication
//   - natsclient, metric, health, config: shared infrastructure
//
// State lives in NATS JetStream key-value buckets; every store also has
// an in-memory implementation for tests and single-process deployments.
package swoopin
