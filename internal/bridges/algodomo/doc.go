// Package algodomo implements the Algo_Domo v1.6 field bus protocol and
// its TCP gateway transport.
//
// The package covers three concerns:
//
//   - the 14-byte frame codec (command catalogue, polling decode, frame
//     extraction from a byte stream);
//   - the gateway client, which opens one TCP connection per transaction
//     and reassembles the reply with a deadline;
//   - per-address mutual exclusion, so frames to the same board never
//     interleave while distinct boards proceed in parallel.
package algodomo
