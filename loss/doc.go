// Package loss implements the multi-task training losses of the person
// search network: 2-class detection cross-entropy, smooth-L1 box
// regression, and the identity-bank-driven re-identification loss.
//
// The five per-task scalars are returned separately rather than pre-summed
// so callers can log and weight each one independently; Losses.Sum exists
// for the backpropagation side.
//
// Embeddings are L2-normalized at the loss boundary before touching the
// bank. Skipping that normalization silently corrupts the bank's unit-scale
// invariant, so it is enforced here rather than assumed from upstream.
package loss
