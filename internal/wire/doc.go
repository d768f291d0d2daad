// Package wire implements the ABX feed wire format.
//
// Requests are always two bytes: a call type followed by a single argument
// byte. Responses are fixed-width 17-byte records:
//
//	offset  size  field
//	0       4     symbol (text, not null terminated)
//	4       1     side indicator ("B" or "S")
//	5       4     quantity (int32, big-endian)
//	9       4     price    (int32, big-endian)
//	13      4     sequence (int32, big-endian)
//
// The resend request carries the sequence number in one byte, so only
// sequences 1..255 can be re-requested. Encoders reject anything outside that
// range instead of truncating it.
package wire
