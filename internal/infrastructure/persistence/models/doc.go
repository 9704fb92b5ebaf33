// Package models contains GORM persistence models for the synchronization
// engine. Models are kept apart from domain types so the domain layer stays
// free of ORM tags.
//
// Every model has ToDomain and FromDomain mappers. Structured columns use
// gorm.io/datatypes so the same model migrates on PostgreSQL (jsonb) and
// SQLite (json) in tests.
//
//   - base.go: shared aggregate columns
//   - integration.go: integrations table
//   - sync_operation.go: sync_operations table
//   - external_id_mapping.go: external_id_mappings table
//   - contract.go: contracts table backing the contract store
package models
