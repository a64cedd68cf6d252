// Package research answers architectural questions by multi-hop expansion.
//
// A research call starts with one hybrid search for the question. Each
// following hop extracts the entities (calls, type references, imports) of
// the chunks found by the previous hop and searches for them, adding chunks
// not seen before and recording a relationship edge per entity. The
// relationships form a transient graph that lives only as long as the call.
//
// Hops are sequential. Within a hop the entity searches run on an ants pool
// and are merged in entity order, so a result does not depend on goroutine
// scheduling. Expansion stops at MaxHops, at MaxVisited chunks, or when a hop
// finds nothing new.
package research
