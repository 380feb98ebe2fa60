// Package memory provides a layered memory store.
//
// Content is stored once and progressively enriched:
//   - Layer 1 (exact): raw content, content hash and embedding
//   - Layer 2 (tags): typed tags keyed by memory ID
//   - Layer 3 (summary): generated summaries, tag suggestions and analyses
//   - Layer 4 (commentary): generated commentary about groups of memories
//
// Architecture:
//   - vectorindex.Index: vector storage backend (memindex, chromem, sqlite)
//   - Embedder: text-to-vector conversion (mock, onnx, openai, ollama)
//   - TextGenerator: prompt completion (anthropic, openai, ollama, gemini)
//   - Manager: orchestrates ingestion across the layers and joined reads
//   - search.Searcher: vector, tag and weighted dual search, with a
//     filesystem fallback when the layered backend is absent
//   - localstore: the directory-tree fallback, also used to archive
//     meta-commentary
//
// Generation never fails a call: when no generator is configured or a call
// errors, summaries and commentaries degrade to deterministic mock text and
// analyses are omitted. Storage failures are returned as *StorageError.
package memory
