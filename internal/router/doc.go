// Package router implements the Message Router component.
//
// The Message Router:
//   - Validates raw feed publications against a strict schema
//   - Drops historical and deletion events
//   - Matches item events against the active subscription set
//   - Emits one FoundItem per matching (event, subscription) pair to the sink
package router
