package odoo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/odoo-mcp/internal/config"
)

// legacyClient implements Client over the /jsonrpc surface: a first
// common.authenticate(db, user, password, {}) produces a uid, then every
// call goes through object.execute_kw(db, uid, password, model, method,
// args, kwargs). The session state (uid + password echo) is mutable and
// guarded by mu, per the ClientHandle data model: concurrent callers share
// one handle, the session token mutates under a lock.
type legacyClient struct {
	descriptor *config.InstanceDescriptor
	http       *http.Client
	policy     RetryPolicy
	logger     *zap.Logger

	mu              sync.Mutex
	uid             int64
	authenticated   bool
	authenticatedAt time.Time
}

func newLegacyClient(d *config.InstanceDescriptor, httpClient *http.Client, policy RetryPolicy, logger *zap.Logger) *legacyClient {
	return &legacyClient{descriptor: d, http: httpClient, policy: policy, logger: logger}
}

type jsonRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  jsonRPCParams   `json:"params"`
	ID      int             `json:"id"`
}

type jsonRPCParams struct {
	Service string        `json:"service"`
	Method  string        `json:"method"`
	Args    []interface{} `json:"args"`
}

type jsonRPCResponse struct {
	Result json.RawMessage  `json:"result"`
	Error  *jsonRPCErrorBody `json:"error"`
}

type jsonRPCErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"data"`
}

// rawCall issues a single POST /jsonrpc with the given service/method/args.
func (c *legacyClient) rawCall(ctx context.Context, service, method string, args []interface{}) (json.RawMessage, *Error) {
	body, _ := json.Marshal(jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  "call",
		Params:  jsonRPCParams{Service: service, Method: method, Args: args},
		ID:      1,
	})

	url := c.descriptor.BaseURL + "/jsonrpc"
	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if reqErr != nil {
		return nil, newError(KindInternalError, 0, "build request", reqErr)
	}
	req.Header.Set("Content-Type", "application/json")

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

	var env jsonRPCResponse
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, newError(KindInternalError, resp.StatusCode, "malformed response envelope", err)
	}
	if env.Error != nil {
		msg := env.Error.Data.Message
		if msg == "" {
			msg = env.Error.Message
		}
		return nil, classifyFault(env.Error.Data.Name, msg)
	}
	return env.Result, nil
}

// authenticateLocked performs common.authenticate and stores the resulting uid.
// Must be called with mu held.
func (c *legacyClient) authenticateLocked(ctx context.Context) *Error {
	raw, err := c.rawCall(ctx, "common", "authenticate", []interface{}{
		c.descriptor.Database, c.descriptor.Username, c.descriptor.Password, map[string]interface{}{},
	})
	if err != nil {
		return err
	}
	var uid float64
	if decErr := json.Unmarshal(raw, &uid); decErr != nil || uid == 0 {
		return newError(KindAuthenticationError, 0, "authentication rejected", decErr)
	}
	c.uid = int64(uid)
	c.authenticated = true
	c.authenticatedAt = time.Now()
	return nil
}

// isSessionValidLocked mirrors ilcreatore32-godoo's isAuthValid: a session
// is usable as long as it was ever established. Odoo sessions built from
// uid+password don't expire the way a cookie session does; re-authentication
// only happens in response to a server-declared auth failure.
func (c *legacyClient) isSessionValidLocked() bool {
	return c.authenticated && c.uid != 0
}

// executeKw implements object.execute_kw(db, uid, password, model, method,
// args, kwargs), authenticating first if needed, and performing at most one
// re-login-and-retry when the server declares the session invalid.
func (c *legacyClient) executeKw(ctx context.Context, model, method string, args []interface{}, kwargs map[string]interface{}) (json.RawMessage, *Error) {
	c.mu.Lock()
	if !c.isSessionValidLocked() {
		if err := c.authenticateLocked(ctx); err != nil {
			c.mu.Unlock()
			return nil, err
		}
	}
	uid, password := c.uid, c.descriptor.Password
	c.mu.Unlock()

	rpcArgs := []interface{}{c.descriptor.Database, uid, password, model, method, args}
	if kwargs != nil && len(kwargs) > 0 {
		rpcArgs = append(rpcArgs, kwargs)
	}

	raw, callErr := c.rawCall(ctx, "object", "execute_kw", rpcArgs)
	if callErr == nil {
		return raw, nil
	}
	if callErr.Kind != KindAuthenticationError {
		return nil, callErr
	}

	// Server declared the session invalid: relogin exactly once and retry.
	c.mu.Lock()
	c.authenticated = false
	if err := c.authenticateLocked(ctx); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	uid = c.uid
	c.mu.Unlock()

	rpcArgs = []interface{}{c.descriptor.Database, uid, password, model, method, args}
	if kwargs != nil && len(kwargs) > 0 {
		rpcArgs = append(rpcArgs, kwargs)
	}
	return c.rawCall(ctx, "object", "execute_kw", rpcArgs)
}

func (c *legacyClient) call(ctx context.Context, model, method string, args []interface{}, kwargs map[string]interface{}) (json.RawMessage, error) {
	result, err := withRetry(ctx, c.policy, func(ctx context.Context) (interface{}, *Error) {
		raw, err := c.executeKw(ctx, model, method, args, kwargs)
		if err != nil {
			return nil, err
		}
		return raw, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(json.RawMessage), nil
}

func (c *legacyClient) decode(raw json.RawMessage, out interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return newError(KindInternalError, 0, "decode result", err)
	}
	return nil
}

func (c *legacyClient) Search(ctx context.Context, model string, domain Domain, opts *Options) ([]int64, error) {
	raw, err := c.call(ctx, model, "search", []interface{}{domain}, opts.ToRPC())
	if err != nil {
		return nil, err
	}
	var ids []int64
	return ids, c.decode(raw, &ids)
}

func (c *legacyClient) SearchRead(ctx context.Context, model string, domain Domain, fields []string, opts *Options) ([]map[string]interface{}, error) {
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

func (c *legacyClient) Read(ctx context.Context, model string, ids []int64, fields []string, opts *Options) ([]map[string]interface{}, error) {
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

func (c *legacyClient) Create(ctx context.Context, model string, values map[string]interface{}, opts *Options) (int64, error) {
	raw, err := c.call(ctx, model, "create", []interface{}{values}, opts.ToRPC())
	if err != nil {
		return 0, err
	}
	var id int64
	return id, c.decode(raw, &id)
}

func (c *legacyClient) Write(ctx context.Context, model string, ids []int64, values map[string]interface{}, opts *Options) (bool, error) {
	raw, err := c.call(ctx, model, "write", []interface{}{ids, values}, opts.ToRPC())
	if err != nil {
		return false, err
	}
	var ok bool
	return ok, c.decode(raw, &ok)
}

func (c *legacyClient) Unlink(ctx context.Context, model string, ids []int64, opts *Options) (bool, error) {
	raw, err := c.call(ctx, model, "unlink", []interface{}{ids}, opts.ToRPC())
	if err != nil {
		return false, err
	}
	var ok bool
	return ok, c.decode(raw, &ok)
}

func (c *legacyClient) SearchCount(ctx context.Context, model string, domain Domain, opts *Options) (int64, error) {
	raw, err := c.call(ctx, model, "search_count", []interface{}{domain}, opts.ToRPC())
	if err != nil {
		return 0, err
	}
	var count int64
	return count, c.decode(raw, &count)
}

func (c *legacyClient) ExecuteKw(ctx context.Context, model, method string, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	raw, err := c.call(ctx, model, method, args, kwargs)
	if err != nil {
		return nil, err
	}
	var result interface{}
	return result, c.decode(raw, &result)
}

func (c *legacyClient) FieldsGet(ctx context.Context, model string, attributes []string) (map[string]interface{}, error) {
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

func (c *legacyClient) NameSearch(ctx context.Context, model, name string, domain Domain, opts *Options) ([]NameResult, error) {
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

func (c *legacyClient) NameGet(ctx context.Context, model string, ids []int64) ([]NameResult, error) {
	raw, err := c.call(ctx, model, "name_get", []interface{}{ids}, nil)
	if err != nil {
		return nil, err
	}
	return decodeNameResults(raw)
}

func (c *legacyClient) DefaultGet(ctx context.Context, model string, fields []string) (map[string]interface{}, error) {
	raw, err := c.call(ctx, model, "default_get", []interface{}{fields}, nil)
	if err != nil {
		return nil, err
	}
	var defaults map[string]interface{}
	return defaults, c.decode(raw, &defaults)
}

func (c *legacyClient) ReadGroup(ctx context.Context, model string, domain Domain, fields, groupBy []string, opts *Options) ([]map[string]interface{}, error) {
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

func (c *legacyClient) Copy(ctx context.Context, model string, id int64, defaults map[string]interface{}) (int64, error) {
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

func (c *legacyClient) Onchange(ctx context.Context, model string, values map[string]interface{}, fieldNames []string, fieldOnchange map[string]string) (map[string]interface{}, error) {
	raw, err := c.call(ctx, model, "onchange", []interface{}{[]int64{}, values, fieldNames, fieldOnchange}, nil)
	if err != nil {
		return nil, err
	}
	var result map[string]interface{}
	return result, c.decode(raw, &result)
}

func (c *legacyClient) ListModels(ctx context.Context, domain Domain, opts *Options) ([]map[string]interface{}, int64, error) {
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

func (c *legacyClient) CheckAccess(ctx context.Context, model, operation string, ids []int64) (bool, error) {
	raw, err := c.call(ctx, model, "check_access_rights", []interface{}{operation}, map[string]interface{}{"raise_exception": false})
	if err != nil {
		return false, err
	}
	var allowed bool
	if decErr := c.decode(raw, &allowed); decErr != nil {
		return false, decErr
	}
	if allowed && len(ids) > 0 {
		if _, err := c.call(ctx, model, "check_access_rule", []interface{}{ids, operation}, nil); err != nil {
			return false, err
		}
	}
	return allowed, nil
}

func (c *legacyClient) GenerateReport(ctx context.Context, reportName string, ids []int64) (ReportResult, error) {
	raw, err := c.call(ctx, "ir.actions.report", "render_qweb_pdf", []interface{}{reportName, ids}, nil)
	if err != nil {
		return ReportResult{}, err
	}
	var pair []interface{}
	if decErr := c.decode(raw, &pair); decErr != nil || len(pair) == 0 {
		return ReportResult{}, fmt.Errorf("malformed report result: %w", decErr)
	}
	pdf, _ := pair[0].(string)
	return ReportResult{PDFBase64: pdf, ReportName: reportName}, nil
}
