// Package ir provides the constrained value representation used for model
// state, register arguments, snapshots and manifest literals.
//
// This package has no internal imports. Every other internal package may
// import ir; ir imports nothing internal.
//
// Key design constraints:
//   - NO float types anywhere - numbers are int64
//   - Values are treated as immutable once published in a state tree;
//     structural changes go through internal/draft
//   - Object keys serialize in RFC 8785 order so snapshots hash stably
package ir
