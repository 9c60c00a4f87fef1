// Package types defines the records, entity types, outbox mutations, store
// interfaces, configuration, and error taxonomy shared by the tillsync
// offline-first synchronization engine.
//
// A record is written to the LocalStore first. While the client is offline
// every write is also appended to the Outbox as a Mutation (Add, Edit or
// Delete) which the sync coordinator later replays against the remote
// authority.
package types
