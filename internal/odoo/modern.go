package odoo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/odoo-mcp/internal/config"
)

// modernClient implements Client over the stateless JSON-2 REST surface:
// one HTTP POST per call to /json/2/{database}/{model}/{method} with a
// bearer API key. No login step; no mutable session state.
type modernClient struct {
	descriptor *config.InstanceDescriptor
	http       *http.Client
	policy     RetryPolicy
	logger     *zap.Logger
}

func newModernClient(d *config.InstanceDescriptor, httpClient *http.Client, policy RetryPolicy, logger *zap.Logger) *modernClient {
	return &modernClient{descriptor: d, http: httpClient, policy: policy, logger: logger}
}

type modernEnvelope struct {
	Result json.RawMessage `json:"result"`
	Error  *modernErrorBody `json:"error"`
}

type modernErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Name string `json:"name"`
	} `json:"data"`
}

// call issues one request to /json/2/{db}/{model}/{method} and returns the
// decoded "result" payload.
func (c *modernClient) call(ctx context.Context, model, method string, args []interface{}, kwargs map[string]interface{}) (json.RawMessage, error) {
	result, err := withRetry(ctx, c.policy, func(ctx context.Context) (interface{}, *Error) {
		return c.attempt(ctx, model, method, args, kwargs)
	})
	if err != nil {
		return nil, err
	}
	return result.(json.RawMessage), nil
}

func (c *modernClient) attempt(ctx context.Context, model, method string, args []interface{}, kwargs map[string]interface{}) (json.RawMessage, *Error) {
	if args == nil {
		args = []interface{}{}
	}
	if kwargs == nil {
		kwargs = map[string]interface{}{}
	}
	body, _ := json.Marshal(map[string]interface{}{"args": args, "kwargs": kwargs})

	url := fmt.Sprintf("%s/json/2/%s/%s/%s", c.descriptor.BaseURL, c.descriptor.Database, model, method)
	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if reqErr != nil {
		return nil, newError(KindInternalError, 0, "build request", reqErr)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.descriptor.APIKey)

	resp, doErr := c.http.Do(req)
	if doErr != nil {
		if ctx.Err() != nil {
			return nil, newError(KindTimeout, 0, "request timed out", doErr)
		}
		return nil, newError(KindTransportError, 0, "request failed", doErr)
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, newError(KindTransportError, resp.StatusCode, "read response body", readErr)
	}

	if resp.StatusCode >= 400 {
		return nil, classifyHTTPStatus(resp.StatusCode, string(raw))
	}

	var env modernEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, newError(KindInternalError, resp.StatusCode, "malformed response envelope", err)
	}
	if env.Error != nil {
		return nil, classifyFault(env.Error.Data.Name, env.Error.Message)
	}
	return env.Result, nil
}

func (c *modernClient) decode(raw json.RawMessage, out interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return newError(KindInternalError, 0, "decode result", err)
	}
	return nil
}

func (c *modernClient) Search(ctx context.Context, model string, domain Domain, opts *Options) ([]int64, error) {
	raw, err := c.call(ctx, model, "search", []interface{}{domain}, opts.ToRPC())
	if err != nil {
		return nil, err
	}
	var ids []int64
	return ids, c.decode(raw, &ids)
}

func (c *modernClient) SearchRead(ctx context.Context, model string, domain Domain, fields []string, opts *Options) ([]map[string]interface{}, error) {
	args := []interface{}{domain}
	kw := opts.ToRPC()
	if len(fields) > 0 {
		kw["fields"] = fields
	}
	raw, err := c.call(ctx, model, "search_read", args, kw)
	if err != nil {
		return nil, err
	}
	var records []map[string]interface{}
	return records, c.decode(raw, &records)
}

func (c *modernClient) Read(ctx context.Context, model string, ids []int64, fields []string, opts *Options) ([]map[string]interface{}, error) {
	args := []interface{}{ids}
	if len(fields) > 0 {
		args = append(args, fields)
	}
	raw, err := c.call(ctx, model, "read", args, opts.ToRPC())
	if err != nil {
		return nil, err
	}
	var records []map[string]interface{}
	return records, c.decode(raw, &records)
}

func (c *modernClient) Create(ctx context.Context, model string, values map[string]interface{}, opts *Options) (int64, error) {
	raw, err := c.call(ctx, model, "create", []interface{}{values}, opts.ToRPC())
	if err != nil {
		return 0, err
	}
	var id int64
	return id, c.decode(raw, &id)
}

func (c *modernClient) Write(ctx context.Context, model string, ids []int64, values map[string]interface{}, opts *Options) (bool, error) {
	raw, err := c.call(ctx, model, "write", []interface{}{ids, values}, opts.ToRPC())
	if err != nil {
		return false, err
	}
	var ok bool
	return ok, c.decode(raw, &ok)
}

func (c *modernClient) Unlink(ctx context.Context, model string, ids []int64, opts *Options) (bool, error) {
	raw, err := c.call(ctx, model, "unlink", []interface{}{ids}, opts.ToRPC())
	if err != nil {
		return false, err
	}
	var ok bool
	return ok, c.decode(raw, &ok)
}

func (c *modernClient) SearchCount(ctx context.Context, model string, domain Domain, opts *Options) (int64, error) {
	raw, err := c.call(ctx, model, "search_count", []interface{}{domain}, opts.ToRPC())
	if err != nil {
		return 0, err
	}
	var count int64
	return count, c.decode(raw, &count)
}

func (c *modernClient) ExecuteKw(ctx context.Context, model, method string, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	raw, err := c.call(ctx, model, method, args, kwargs)
	if err != nil {
		return nil, err
	}
	var result interface{}
	return result, c.decode(raw, &result)
}

func (c *modernClient) FieldsGet(ctx context.Context, model string, attributes []string) (map[string]interface{}, error) {
	kw := map[string]interface{}{}
	if len(attributes) > 0 {
		kw["attributes"] = attributes
	}
	raw, err := c.call(ctx, model, "fields_get", nil, kw)
	if err != nil {
		return nil, err
	}
	var fields map[string]interface{}
	return fields, c.decode(raw, &fields)
}

func (c *modernClient) NameSearch(ctx context.Context, model, name string, domain Domain, opts *Options) ([]NameResult, error) {
	kw := opts.ToRPC()
	kw["name"] = name
	if domain != nil {
		kw["args"] = domain
	}
	raw, err := c.call(ctx, model, "name_search", nil, kw)
	if err != nil {
		return nil, err
	}
	return decodeNameResults(raw)
}

func (c *modernClient) NameGet(ctx context.Context, model string, ids []int64) ([]NameResult, error) {
	raw, err := c.call(ctx, model, "name_get", []interface{}{ids}, nil)
	if err != nil {
		return nil, err
	}
	return decodeNameResults(raw)
}

func decodeNameResults(raw json.RawMessage) ([]NameResult, error) {
	var pairs [][]interface{}
	if err := json.Unmarshal(raw, &pairs); err != nil {
		return nil, newError(KindInternalError, 0, "decode name results", err)
	}
	out := make([]NameResult, 0, len(pairs))
	for _, pair := range pairs {
		if len(pair) != 2 {
			continue
		}
		id, _ := pair[0].(float64)
		name, _ := pair[1].(string)
		out = append(out, NameResult{ID: int64(id), Name: name})
	}
	return out, nil
}

func (c *modernClient) DefaultGet(ctx context.Context, model string, fields []string) (map[string]interface{}, error) {
	raw, err := c.call(ctx, model, "default_get", []interface{}{fields}, nil)
	if err != nil {
		return nil, err
	}
	var defaults map[string]interface{}
	return defaults, c.decode(raw, &defaults)
}

func (c *modernClient) ReadGroup(ctx context.Context, model string, domain Domain, fields, groupBy []string, opts *Options) ([]map[string]interface{}, error) {
	kw := opts.ToRPC()
	kw["fields"] = fields
	kw["groupby"] = groupBy
	raw, err := c.call(ctx, model, "read_group", []interface{}{domain}, kw)
	if err != nil {
		return nil, err
	}
	var groups []map[string]interface{}
	return groups, c.decode(raw, &groups)
}

func (c *modernClient) Copy(ctx context.Context, model string, id int64, defaults map[string]interface{}) (int64, error) {
	args := []interface{}{id}
	if defaults != nil {
		args = append(args, defaults)
	}
	raw, err := c.call(ctx, model, "copy", args, nil)
	if err != nil {
		return 0, err
	}
	var newID int64
	return newID, c.decode(raw, &newID)
}

func (c *modernClient) Onchange(ctx context.Context, model string, values map[string]interface{}, fieldNames []string, fieldOnchange map[string]string) (map[string]interface{}, error) {
	raw, err := c.call(ctx, model, "onchange", []interface{}{[]int64{}, values, fieldNames, fieldOnchange}, nil)
	if err != nil {
		return nil, err
	}
	var result map[string]interface{}
	return result, c.decode(raw, &result)
}

func (c *modernClient) ListModels(ctx context.Context, domain Domain, opts *Options) ([]map[string]interface{}, int64, error) {
	records, err := c.SearchRead(ctx, "ir.model", domain, []string{"model", "name", "state"}, opts)
	if err != nil {
		return nil, 0, err
	}
	count, err := c.SearchCount(ctx, "ir.model", domain, nil)
	if err != nil {
		return nil, 0, err
	}
	return records, count, nil
}

func (c *modernClient) CheckAccess(ctx context.Context, model, operation string, ids []int64) (bool, error) {
	raw, err := c.call(ctx, model, "check_access_rights", []interface{}{operation}, map[string]interface{}{"raise_exception": false})
	if err != nil {
		return false, err
	}
	var allowed bool
	if decErr := c.decode(raw, &allowed); decErr != nil {
		return false, decErr
	}
	if allowed && len(ids) > 0 {
		raw, err := c.call(ctx, model, "check_access_rule", []interface{}{ids, operation}, nil)
		if err != nil {
			return false, err
		}
		_ = raw // check_access_rule raises on failure rather than returning a value; no raise means allowed
	}
	return allowed, nil
}

func (c *modernClient) GenerateReport(ctx context.Context, reportName string, ids []int64) (ReportResult, error) {
	raw, err := c.call(ctx, "ir.actions.report", "render_qweb_pdf", []interface{}{reportName, ids}, nil)
	if err != nil {
		return ReportResult{}, err
	}
	var pair []interface{}
	if decErr := c.decode(raw, &pair); decErr != nil || len(pair) == 0 {
		return ReportResult{}, newError(KindInternalError, 0, "malformed report result", decErr)
	}
	pdf, _ := pair[0].(string)
	return ReportResult{PDFBase64: pdf, ReportName: reportName}, nil
}
