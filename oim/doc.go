// Package oim implements the online instance matching identity bank: a
// lookup table of per-identity running feature averages plus a bounded
// circular queue of embeddings from unlabeled persons.
//
// The bank is the non-parametric classifier behind the re-identification
// loss. Identity logits are inner products against its rows rather than
// learned weight rows, so the identity space can grow far beyond what a
// dense classification layer could handle.
//
// # Invariants
//
//   - Every LUT row is kept at unit L2 scale by renormalizing after each
//     exponential-moving-average blend, so logits stay in [-1, 1].
//   - Shapes are fixed at construction; rows are mutated in place, never
//     resized.
//   - Batch updates are applied in sample index order, so identical batches
//     produce identical bank state.
//
// The bank is mutated only inside the training step. A mutex serializes
// Update for callers that parallelize training across goroutines; reads
// during inference take no lock because inference and training never
// overlap in the single-accelerator execution model.
package oim
