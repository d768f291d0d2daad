// Package feed turns a lossy ABX stream into a complete, ordered record set.
//
// A Pipeline runs four stages:
//
//  1. Stream: one stream-all session collects whatever the server delivers.
//  2. DetectGaps: sequences strictly between two observed packets that never
//     arrived.
//  3. Coordinator.Recover: one resend session per gap, bounded concurrency,
//     one attempt each.
//  4. Reassemble: merge, deduplicate and sort by sequence.
//
// Failures in stages 1 and 3 are recovered locally. The pipeline always
// produces a Result; sequences that could not be recovered are listed in
// Result.Missing. Gap sequences a resend request cannot carry (outside
// 1..255) are only counted, in Result.Unrequestable.
//
// Gaps are only inferred between two confirmed sightings. A packet lost
// after the last one received is invisible to the detector.
package feed
