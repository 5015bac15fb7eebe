// Package protocol implements the three relay wire formats.
//
// Control channel (reliable stream):
//
//	[length:4 big-endian][UTF-8 text]
//
// Media relay (datagram):
//
//	[type:1][nameLen:2 big-endian][sender][payload]
//
// File transfer (reliable stream, big-endian):
//
//	request : [command:1][idLen:2][clientId][nameLen:4][filename]
//	upload  : request [size:8][size bytes]  -> [status:1]
//	download: request                         -> [status:1] ([size:8][bytes] when status is OK)
package protocol
