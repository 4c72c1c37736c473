// Package odoo implements the dual-protocol Odoo client: a capability-set
// interface with one implementation per wire protocol (modern JSON-2 REST
// with a bearer API key, and legacy JSON-RPC with a username/password
// session). Protocol selection, retry/backoff, and error normalization are
// shared across both variants.
package odoo

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/odoo-mcp/internal/config"
)

// NameResult is the {id, name} pair returned by name_search/name_get.
type NameResult struct {
	ID   int64
	Name string
}

// ReportResult is the outcome of generate_report.
type ReportResult struct {
	PDFBase64 string
	ReportName string
}

// Client is the capability set every Odoo primitive is exposed through.
// Two concrete types implement it: modernClient and legacyClient.
type Client interface {
	Search(ctx context.Context, model string, domain Domain, opts *Options) ([]int64, error)
	SearchRead(ctx context.Context, model string, domain Domain, fields []string, opts *Options) ([]map[string]interface{}, error)
	Read(ctx context.Context, model string, ids []int64, fields []string, opts *Options) ([]map[string]interface{}, error)
	Create(ctx context.Context, model string, values map[string]interface{}, opts *Options) (int64, error)
	Write(ctx context.Context, model string, ids []int64, values map[string]interface{}, opts *Options) (bool, error)
	Unlink(ctx context.Context, model string, ids []int64, opts *Options) (bool, error)
	SearchCount(ctx context.Context, model string, domain Domain, opts *Options) (int64, error)
	ExecuteKw(ctx context.Context, model, method string, args []interface{}, kwargs map[string]interface{}) (interface{}, error)
	FieldsGet(ctx context.Context, model string, attributes []string) (map[string]interface{}, error)
	NameSearch(ctx context.Context, model, name string, domain Domain, opts *Options) ([]NameResult, error)
	NameGet(ctx context.Context, model string, ids []int64) ([]NameResult, error)
	DefaultGet(ctx context.Context, model string, fields []string) (map[string]interface{}, error)
	ReadGroup(ctx context.Context, model string, domain Domain, fields, groupBy []string, opts *Options) ([]map[string]interface{}, error)
	Copy(ctx context.Context, model string, id int64, defaults map[string]interface{}) (int64, error)
	Onchange(ctx context.Context, model string, values map[string]interface{}, fieldNames []string, fieldOnchange map[string]string) (map[string]interface{}, error)
	ListModels(ctx context.Context, domain Domain, opts *Options) ([]map[string]interface{}, int64, error)
	CheckAccess(ctx context.Context, model, operation string, ids []int64) (bool, error)
	GenerateReport(ctx context.Context, reportName string, ids []int64) (ReportResult, error)
}

// New constructs the protocol variant selected by descriptor, per the
// selection rule in the component design: API key with no legacy
// credentials, or an explicit "modern" hint, build a modernClient; a
// version plus username/password, or an explicit "legacy" hint, build a
// legacyClient; "auto" with both present prefers modern.
func New(descriptor *config.InstanceDescriptor, logger *zap.Logger) (Client, error) {
	if err := descriptor.Validate(); err != nil {
		return nil, err
	}
	httpClient := &http.Client{
		Timeout: descriptor.Timeout(),
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 8,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	policy := DefaultRetryPolicy(descriptor.Retries())

	switch descriptor.SelectProtocol() {
	case config.ProtocolModern:
		return newModernClient(descriptor, httpClient, policy, logger), nil
	case config.ProtocolLegacy:
		return newLegacyClient(descriptor, httpClient, policy, logger), nil
	default:
		return nil, fmt.Errorf("instance %q: cannot select a protocol", descriptor.Name)
	}
}

// withRetry runs attempt up to policy.Attempts() times, sleeping
// policy.Delay(n) between tries, stopping early on a non-retryable error or
// on ctx cancellation. It is the single retry loop shared by both protocol
// variants.
func withRetry(ctx context.Context, policy RetryPolicy, attempt func(ctx context.Context) (interface{}, *Error)) (interface{}, error) {
	var lastErr *Error
	for n := 0; n < policy.Attempts(); n++ {
		if n > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(policy.Delay(n - 1)):
			}
		}
		result, err := attempt(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}
