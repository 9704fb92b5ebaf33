package clm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/contractiq/backend/internal/domain/integration"
)

// IroncladAdapter implements integration.ProviderAdapter against the Ironclad
// public records API.
type IroncladAdapter struct {
	client *apiClient
}

// NewIroncladAdapter creates an IroncladAdapter
func NewIroncladAdapter(httpClient *http.Client) *IroncladAdapter {
	return &IroncladAdapter{client: newAPIClient(httpClient, integration.ProviderIronclad)}
}

var _ integration.ProviderAdapter = (*IroncladAdapter)(nil)

// Provider returns the provider code this adapter serves
func (a *IroncladAdapter) Provider() integration.ProviderCode {
	return integration.ProviderIronclad
}

// ironcladRecordList is the paged records response
type ironcladRecordList struct {
	Page     int              `json:"page"`
	PageSize int              `json:"pageSize"`
	Count    int              `json:"count"`
	List     []map[string]any `json:"list"`
}

// ironcladRecord is the subset of a record returned by create and update
type ironcladRecord struct {
	ID string `json:"id"`
}

func recordType(cfg integration.ProviderConfig) string {
	if cfg.Ironclad != nil && cfg.Ironclad.RecordType != "" {
		return cfg.Ironclad.RecordType
	}
	return "contract"
}

// TestConnection requests a one-item page of records
func (a *IroncladAdapter) TestConnection(ctx context.Context, cfg integration.ProviderConfig) integration.ConnectionResult {
	query := url.Values{"pageSize": {"1"}}
	if err := a.client.do(ctx, cfg, request{op: "ironclad.records.list", method: http.MethodGet, path: "/records", query: query}, nil); err != nil {
		return connectionFailure(err)
	}
	return integration.ConnectionResult{
		Success:            true,
		APIVersion:         "v1",
		AvailableEndpoints: []string{"records", "workflows", "webhooks"},
		Errors:             []string{},
	}
}

// FetchContracts lists records updated since req.Since. PageToken is the
// zero-based page number.
func (a *IroncladAdapter) FetchContracts(ctx context.Context, cfg integration.ProviderConfig, req integration.FetchRequest) (*integration.FetchResult, error) {
	page := 0
	if req.PageToken != "" {
		var err error
		if page, err = strconv.Atoi(req.PageToken); err != nil || page < 0 {
			return nil, integration.NewProviderError(integration.ErrorKindAPI, "ironclad.records.list", 0,
				fmt.Errorf("%w: bad page token %q", integration.ErrProviderInvalidResponse, req.PageToken))
		}
	}

	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("pageSize", strconv.Itoa(cfg.BatchSize))
	query.Set("types", recordType(cfg))
	query.Set("sortField", "lastUpdated")
	query.Set("sortDirection", "ASC")
	if req.Since != "" {
		query.Set("lastUpdated", req.Since)
	}

	var list ironcladRecordList
	if err := a.client.do(ctx, cfg, request{op: "ironclad.records.list", method: http.MethodGet, path: "/records", query: query}, &list); err != nil {
		return nil, err
	}

	result := &integration.FetchResult{
		Records: toRecords(list.List),
		Cursor:  req.Since,
	}
	for _, rec := range list.List {
		if ts, ok := rec["lastUpdated"].(string); ok {
			result.Cursor = laterTimestamp(result.Cursor, ts)
		}
	}

	pageSize := list.PageSize
	if pageSize <= 0 {
		pageSize = cfg.BatchSize
	}
	if len(list.List) > 0 && (page+1)*pageSize < list.Count {
		result.NextPageToken = strconv.Itoa(page + 1)
	}
	return result, nil
}

// CreateContract creates a record of the configured type
func (a *IroncladAdapter) CreateContract(ctx context.Context, data integration.Record, cfg integration.ProviderConfig) (string, error) {
	body := data.Clone()
	if _, ok := body["type"]; !ok {
		body["type"] = recordType(cfg)
	}
	var rec ironcladRecord
	if err := a.client.do(ctx, cfg, request{op: "ironclad.records.create", method: http.MethodPost, path: "/records", body: body}, &rec); err != nil {
		return "", err
	}
	if rec.ID == "" {
		return "", integration.NewProviderError(integration.ErrorKindAPI, "ironclad.records.create", 0,
			fmt.Errorf("%w: missing record id", integration.ErrProviderInvalidResponse))
	}
	return rec.ID, nil
}

// UpdateContract patches a record
func (a *IroncladAdapter) UpdateContract(ctx context.Context, externalID string, data integration.Record, cfg integration.ProviderConfig) (string, error) {
	var rec ironcladRecord
	path := "/records/" + url.PathEscape(externalID)
	if err := a.client.do(ctx, cfg, request{op: "ironclad.records.update", method: http.MethodPatch, path: path, body: data}, &rec); err != nil {
		return "", err
	}
	if rec.ID != "" {
		return rec.ID, nil
	}
	return externalID, nil
}

// DeleteContract removes a record
func (a *IroncladAdapter) DeleteContract(ctx context.Context, externalID string, cfg integration.ProviderConfig) error {
	path := "/records/" + url.PathEscape(externalID)
	return a.client.do(ctx, cfg, request{op: "ironclad.records.delete", method: http.MethodDelete, path: path}, nil)
}
