// Package knowledge maintains the reference-document embedding index used to
// ground verdicts.
//
// Documents under the docs directory are split into overlapping text chunks and
// embedded. Chunks and embeddings are persisted in SQLite keyed by a per-file
// fingerprint (size and modification time), so only new or changed documents are
// re-embedded on later builds. Search scores every chunk by cosine similarity
// against the embedded query and drops results below a relevance floor.
package knowledge
