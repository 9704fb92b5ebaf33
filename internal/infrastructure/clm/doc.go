// Package clm contains the provider adapters that speak to external contract
// lifecycle management systems. Each adapter implements
// integration.ProviderAdapter; the Registry resolves an adapter by provider
// code and falls back to the generic adapter for unknown codes.
package clm
