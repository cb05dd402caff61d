// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Owns the single live WebSocket transport to the marketplace feed
//   - Drives the connection state machine through its valid transitions
//   - Consults the Reconnection Strategy on every transport failure
//   - Resumes the feed subscription from the last seen offset/epoch
//   - Forwards publications to the Message Router over a buffered channel
package connection
