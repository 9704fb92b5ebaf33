// Package integration contains the CLM Integration bounded context.
// This context synchronizes the contract store with external
// Contract-Lifecycle-Management providers.
//
// Key concepts:
//   - Integration: Aggregate root holding provider configuration, field mappings,
//     webhook and schedule settings, encrypted credentials and cumulative stats
//   - ProviderAdapter: Port interface for talking to one CLM provider (DocuSign, Ironclad, ...)
//   - DataMapping / Transform / Validate: Pure field mapping engine between internal and external schemas
//   - SyncOperation: One synchronization run and its queued -> running -> terminal lifecycle
//   - ExternalIDMapping: (contract, provider) -> external id, used to decide create vs update
//   - CredentialVault: Port for reversible encryption of provider credentials
//
// Design Pattern: Ports & Adapters
//   - Ports (interfaces) are defined here in the domain layer
//   - Adapters (implementations) are in the infrastructure layer
package integration
