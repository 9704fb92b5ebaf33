package clm

import (
	"context"
	"fmt"

	"github.com/contractiq/backend/internal/domain/integration"
)

// GenericAdapter is the fallback for providers without a dedicated adapter.
// Its connection test always fails and every data call is unsupported.
type GenericAdapter struct{}

var _ integration.ProviderAdapter = GenericAdapter{}

// Provider returns the generic provider code
func (GenericAdapter) Provider() integration.ProviderCode {
	return integration.ProviderGeneric
}

func (GenericAdapter) unsupported(op string) error {
	return fmt.Errorf("%w: %s", integration.ErrProviderUnsupported, op)
}

// TestConnection always reports failure
func (g GenericAdapter) TestConnection(_ context.Context, _ integration.ProviderConfig) integration.ConnectionResult {
	return connectionFailure(g.unsupported("connection test"))
}

func (g GenericAdapter) FetchContracts(context.Context, integration.ProviderConfig, integration.FetchRequest) (*integration.FetchResult, error) {
	return nil, g.unsupported("fetch contracts")
}

func (g GenericAdapter) CreateContract(context.Context, integration.Record, integration.ProviderConfig) (string, error) {
	return "", g.unsupported("create contract")
}

func (g GenericAdapter) UpdateContract(context.Context, string, integration.Record, integration.ProviderConfig) (string, error) {
	return "", g.unsupported("update contract")
}

func (g GenericAdapter) DeleteContract(context.Context, string, integration.ProviderConfig) error {
	return g.unsupported("delete contract")
}
