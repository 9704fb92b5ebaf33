package clm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/contractiq/backend/internal/domain/integration"
)

// docuSignAPIVersion is the eSignature REST API version the adapter targets
const docuSignAPIVersion = "v2.1"

// docuSignEpoch is the from_date of a full sync; the envelopes listing
// requires a lower bound.
const docuSignEpoch = "2000-01-01T00:00:00Z"

// ErrDocuSignAccountMissing indicates the integration has no DocuSign account ID
var ErrDocuSignAccountMissing = errors.New("docusign: account id not configured")

// DocuSignAdapter implements integration.ProviderAdapter against the DocuSign
// eSignature REST API. Contracts are envelopes.
type DocuSignAdapter struct {
	client *apiClient
}

// NewDocuSignAdapter creates a DocuSignAdapter
func NewDocuSignAdapter(httpClient *http.Client) *DocuSignAdapter {
	return &DocuSignAdapter{client: newAPIClient(httpClient, integration.ProviderDocuSign)}
}

var _ integration.ProviderAdapter = (*DocuSignAdapter)(nil)

// Provider returns the provider code this adapter serves
func (a *DocuSignAdapter) Provider() integration.ProviderCode {
	return integration.ProviderDocuSign
}

// docuSignEnvelopeList is the envelopes listing response
type docuSignEnvelopeList struct {
	Envelopes     []map[string]any `json:"envelopes"`
	ResultSetSize string           `json:"resultSetSize"`
	TotalSetSize  string           `json:"totalSetSize"`
	StartPosition string           `json:"startPosition"`
	EndPosition   string           `json:"endPosition"`
}

// docuSignEnvelopeSummary is returned by envelope create and update calls
type docuSignEnvelopeSummary struct {
	EnvelopeID string `json:"envelopeId"`
	Status     string `json:"status"`
}

func (a *DocuSignAdapter) accountPath(cfg integration.ProviderConfig, suffix string) (string, error) {
	if cfg.DocuSign == nil || cfg.DocuSign.AccountID == "" {
		return "", integration.NewProviderError(integration.ErrorKindAPI, "docusign.account", 0, ErrDocuSignAccountMissing)
	}
	return fmt.Sprintf("/%s/accounts/%s%s", docuSignAPIVersion, url.PathEscape(cfg.DocuSign.AccountID), suffix), nil
}

// TestConnection reads the account to verify the token and account ID
func (a *DocuSignAdapter) TestConnection(ctx context.Context, cfg integration.ProviderConfig) integration.ConnectionResult {
	path, err := a.accountPath(cfg, "")
	if err != nil {
		return connectionFailure(err)
	}
	if err := a.client.do(ctx, cfg, request{op: "docusign.account", method: http.MethodGet, path: path}, nil); err != nil {
		return connectionFailure(err)
	}
	return integration.ConnectionResult{
		Success:            true,
		APIVersion:         docuSignAPIVersion,
		AvailableEndpoints: []string{"envelopes", "templates", "folders"},
		Errors:             []string{},
	}
}

// FetchContracts lists envelopes changed since req.Since, oldest change first.
// PageToken is the start position of the next page.
func (a *DocuSignAdapter) FetchContracts(ctx context.Context, cfg integration.ProviderConfig, req integration.FetchRequest) (*integration.FetchResult, error) {
	path, err := a.accountPath(cfg, "/envelopes")
	if err != nil {
		return nil, err
	}

	fromDate := req.Since
	if fromDate == "" {
		fromDate = docuSignEpoch
	}
	start := 0
	if req.PageToken != "" {
		if start, err = strconv.Atoi(req.PageToken); err != nil || start < 0 {
			return nil, integration.NewProviderError(integration.ErrorKindAPI, "docusign.envelopes.list", 0,
				fmt.Errorf("%w: bad page token %q", integration.ErrProviderInvalidResponse, req.PageToken))
		}
	}

	query := url.Values{}
	query.Set("from_date", fromDate)
	query.Set("start_position", strconv.Itoa(start))
	query.Set("count", strconv.Itoa(cfg.BatchSize))
	query.Set("order_by", "last_modified")
	query.Set("order", "asc")
	if cfg.DocuSign.EnvelopeStatus != "" {
		query.Set("status", cfg.DocuSign.EnvelopeStatus)
	}

	var list docuSignEnvelopeList
	if err := a.client.do(ctx, cfg, request{op: "docusign.envelopes.list", method: http.MethodGet, path: path, query: query}, &list); err != nil {
		return nil, err
	}

	result := &integration.FetchResult{
		Records: toRecords(list.Envelopes),
		Cursor:  req.Since,
	}
	for _, env := range list.Envelopes {
		if ts, ok := env["lastModifiedDateTime"].(string); ok {
			result.Cursor = laterTimestamp(result.Cursor, ts)
		}
	}

	end, errEnd := strconv.Atoi(list.EndPosition)
	total, errTotal := strconv.Atoi(list.TotalSetSize)
	if errEnd == nil && errTotal == nil && len(list.Envelopes) > 0 && end+1 < total {
		result.NextPageToken = strconv.Itoa(end + 1)
	}
	return result, nil
}

// CreateContract creates a draft envelope from data
func (a *DocuSignAdapter) CreateContract(ctx context.Context, data integration.Record, cfg integration.ProviderConfig) (string, error) {
	path, err := a.accountPath(cfg, "/envelopes")
	if err != nil {
		return "", err
	}
	body := data.Clone()
	if _, ok := body["status"]; !ok {
		body["status"] = "created"
	}

	var summary docuSignEnvelopeSummary
	if err := a.client.do(ctx, cfg, request{op: "docusign.envelopes.create", method: http.MethodPost, path: path, body: body}, &summary); err != nil {
		return "", err
	}
	if summary.EnvelopeID == "" {
		return "", integration.NewProviderError(integration.ErrorKindAPI, "docusign.envelopes.create", 0,
			fmt.Errorf("%w: missing envelopeId", integration.ErrProviderInvalidResponse))
	}
	return summary.EnvelopeID, nil
}

// UpdateContract updates an envelope's fields
func (a *DocuSignAdapter) UpdateContract(ctx context.Context, externalID string, data integration.Record, cfg integration.ProviderConfig) (string, error) {
	path, err := a.accountPath(cfg, "/envelopes/"+url.PathEscape(externalID))
	if err != nil {
		return "", err
	}
	var summary docuSignEnvelopeSummary
	if err := a.client.do(ctx, cfg, request{op: "docusign.envelopes.update", method: http.MethodPut, path: path, body: data}, &summary); err != nil {
		return "", err
	}
	if summary.EnvelopeID != "" {
		return summary.EnvelopeID, nil
	}
	return externalID, nil
}

// DeleteContract voids an envelope. DocuSign keeps envelopes once sent, so
// voiding is the closest equivalent of a delete.
func (a *DocuSignAdapter) DeleteContract(ctx context.Context, externalID string, cfg integration.ProviderConfig) error {
	path, err := a.accountPath(cfg, "/envelopes/"+url.PathEscape(externalID))
	if err != nil {
		return err
	}
	body := map[string]string{"status": "voided", "voidedReason": "removed from contract repository"}
	return a.client.do(ctx, cfg, request{op: "docusign.envelopes.void", method: http.MethodPut, path: path, body: body}, nil)
}
