// Package docengine implements the engine contract as an in-process
// document store.
//
// Predicates compile to filter documents in a Mongo-style operator syntax
// ({"rating": {"$gt": 3}}) which are then evaluated against stored
// documents. Documents are schemaless maps keyed by a string UUIDv7 id;
// a missing field and an explicit null are distinct.
//
// An engine is either purely in-memory (New) or backed by a msgpack
// snapshot file (Open) that is rewritten after every write.
package docengine
