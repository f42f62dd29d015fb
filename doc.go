// Package contextengine is the context budget and compaction engine for a
// note-taking assistant. For every outgoing request to a language model it
// decides how much retrieved material (notes, search results, URL content)
// may be sent, which injected blocks must be summarized, and how large a
// similarity-search sample may be drawn from an arbitrarily long note.
//
// The engine is a library: no CLI, no server. The host application composes
// the prompt payload, owns settings storage, and binds the LLM providers;
// the engine consumes a validated configuration snapshot per request and
// reports structured outcomes.
//
// Internally the engine is split along single responsibilities:
//
//   - internal/budget:     pure token/char ceiling resolution
//   - internal/retrieval:  bounded, evenly-spread embedding sampling
//   - internal/block:      typed context-block parsing with source offsets
//   - internal/compaction: the summarize-and-splice planner
//
// Compaction is advisory. Every failure path returns the original content,
// so the surrounding chat request always proceeds with the best available
// payload.
package contextengine
