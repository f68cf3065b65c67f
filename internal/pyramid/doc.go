// Package pyramid runs a marker detector over an image pyramid and fuses the
// per-level results into one duplicate-free marker list in original image
// coordinates.
//
// Level 0 is the image as given. Negative levels are successively halved
// copies, positive levels successively doubled copies. A marker found at
// level L is mapped back to level 0 by Level.ScaleFactor, 2^(-L).
//
// # Merge Priority
//
// The down pass and the up pass resolve ID collisions differently:
//
//   - down pass: the accumulated result is primary, so level 0 beats -1,
//     which beats -2, and so on.
//   - up pass: each new level is primary over what the pass has seen so far,
//     so +2 beats +1.
//   - final: the down result is primary over the up result.
//
// The asymmetry is deliberate: native resolution is trusted on the way down
// and finer detail on the way up.
package pyramid
