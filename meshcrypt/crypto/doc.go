// Package crypto provides the cipher framing used on the mesh radio link.
//
// Design notes:
//   - AES-128 in CBC mode, one 16-byte block at a time
//   - Frames always carry len/16+1 blocks, so an exact multiple of the block
//     size still gains a trailing padding block
//   - No padding scheme is applied; the true plaintext length travels out of band
//   - Confidentiality only, there is no authentication tag
//   - Random sources are explicit parameters, see SystemSource and NewSeededSource
package crypto
