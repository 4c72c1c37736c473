package dispatcher

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/odoo-mcp/internal/cache"
	"github.com/smart-mcp-proxy/odoo-mcp/internal/odoo"
	"github.com/smart-mcp-proxy/odoo-mcp/internal/pool"
	"github.com/smart-mcp-proxy/odoo-mcp/internal/registry"
)

// maxBatchCreate caps odoo_create_batch at 100 records, per §4.F's
// create_batch contract.
const maxBatchCreate = 100

// Dispatcher implements call_tool (§4.F): resolve the tool, extract typed
// arguments via JSON pointers, route to the matching operation handler, and
// render the result as a single compact-JSON text block.
type Dispatcher struct {
	registry *registry.Registry
	pool     *pool.Pool
	cache    *cache.Cache
	getenv   func(string) string
	logger   *zap.Logger
}

// New constructs a Dispatcher. getenv is supplied by the caller (os.Getenv
// in production) and is used as given, so guard evaluation is testable.
func New(reg *registry.Registry, p *pool.Pool, c *cache.Cache, getenv func(string) string, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{registry: reg, pool: p, cache: c, getenv: getenv, logger: logger}
}

// CallTool implements §4.F's algorithm end to end.
func (d *Dispatcher) CallTool(ctx context.Context, name string, args map[string]interface{}) (string, *Error) {
	snap := d.registry.Current()
	tool, visible := snap.FindTool(name, d.getenv)
	if !visible {
		return "", ToolNotFound(name)
	}

	ex := newExtractor(name, args, tool.Op)
	handler, ok := handlers[tool.Op.Type]
	if !ok {
		return "", Internal(fmt.Sprintf("tool %q: no handler registered for op.type %q", name, tool.Op.Type), nil)
	}

	result, err := handler(d, ctx, ex)
	if err != nil {
		return "", err
	}
	body, jsonErr := json.Marshal(result)
	if jsonErr != nil {
		return "", Internal("marshal result", jsonErr)
	}
	return string(body), nil
}

// handlerFunc matches the method-expression type produced by
// (*Dispatcher).handleX below: the receiver becomes the first parameter.
type handlerFunc func(d *Dispatcher, ctx context.Context, ex *extractor) (interface{}, *Error)

var handlers = map[string]handlerFunc{
	"search":             (*Dispatcher).handleSearch,
	"search_read":        (*Dispatcher).handleSearchRead,
	"read":               (*Dispatcher).handleRead,
	"create":             (*Dispatcher).handleCreate,
	"write":              (*Dispatcher).handleWrite,
	"unlink":             (*Dispatcher).handleUnlink,
	"search_count":       (*Dispatcher).handleSearchCount,
	"execute":            (*Dispatcher).handleExecute,
	"workflow_action":    (*Dispatcher).handleWorkflowAction,
	"generate_report":    (*Dispatcher).handleGenerateReport,
	"get_model_metadata": (*Dispatcher).handleGetModelMetadata,
	"list_models":        (*Dispatcher).handleListModels,
	"check_access":       (*Dispatcher).handleCheckAccess,
	"create_batch":       (*Dispatcher).handleCreateBatch,
	"read_group":         (*Dispatcher).handleReadGroup,
	"name_search":        (*Dispatcher).handleNameSearch,
	"name_get":           (*Dispatcher).handleNameGet,
	"default_get":        (*Dispatcher).handleDefaultGet,
	"copy":               (*Dispatcher).handleCopy,
	"onchange":           (*Dispatcher).handleOnchange,
	"database_cleanup":   (*Dispatcher).handleDatabaseCleanup,
	"deep_cleanup":       (*Dispatcher).handleDeepCleanup,
}

func (d *Dispatcher) client(ctx context.Context, instance string) (odoo.Client, *Error) {
	c, err := d.pool.Get(ctx, instance)
	if err != nil {
		return nil, newErr(CodeInvalidArgs, err.Error(), err)
	}
	return c, nil
}

func (d *Dispatcher) handleSearch(ctx context.Context, ex *extractor) (interface{}, *Error) {
	instance, err := ex.requiredString("instance")
	if err != nil {
		return nil, err
	}
	model, err := ex.requiredString("model")
	if err != nil {
		return nil, err
	}
	c, cerr := d.client(ctx, instance)
	if cerr != nil {
		return nil, cerr
	}
	domain := ex.optionalDomain("domain")
	ids, callErr := c.Search(ctx, model, domain, ex.buildOptions())
	if callErr != nil {
		return nil, FromOdooError(callErr)
	}
	return map[string]interface{}{"ids": ids, "count": len(ids)}, nil
}

func (d *Dispatcher) handleSearchRead(ctx context.Context, ex *extractor) (interface{}, *Error) {
	instance, err := ex.requiredString("instance")
	if err != nil {
		return nil, err
	}
	model, err := ex.requiredString("model")
	if err != nil {
		return nil, err
	}
	c, cerr := d.client(ctx, instance)
	if cerr != nil {
		return nil, cerr
	}
	domain := ex.optionalDomain("domain")
	fields := ex.optionalStringSlice("fields")
	records, callErr := c.SearchRead(ctx, model, domain, fields, ex.buildOptions())
	if callErr != nil {
		return nil, FromOdooError(callErr)
	}
	return map[string]interface{}{"records": records, "count": len(records)}, nil
}

func (d *Dispatcher) handleRead(ctx context.Context, ex *extractor) (interface{}, *Error) {
	instance, err := ex.requiredString("instance")
	if err != nil {
		return nil, err
	}
	model, err := ex.requiredString("model")
	if err != nil {
		return nil, err
	}
	ids, err := ex.requiredInt64Slice("ids")
	if err != nil {
		return nil, err
	}
	c, cerr := d.client(ctx, instance)
	if cerr != nil {
		return nil, cerr
	}
	fields := ex.optionalStringSlice("fields")
	records, callErr := c.Read(ctx, model, ids, fields, ex.buildOptions())
	if callErr != nil {
		return nil, FromOdooError(callErr)
	}
	return map[string]interface{}{"records": records}, nil
}

func (d *Dispatcher) handleCreate(ctx context.Context, ex *extractor) (interface{}, *Error) {
	instance, err := ex.requiredString("instance")
	if err != nil {
		return nil, err
	}
	model, err := ex.requiredString("model")
	if err != nil {
		return nil, err
	}
	values, err := ex.requiredMap("values")
	if err != nil {
		return nil, err
	}
	c, cerr := d.client(ctx, instance)
	if cerr != nil {
		return nil, cerr
	}
	id, callErr := c.Create(ctx, model, values, ex.buildOptions())
	if callErr != nil {
		return nil, FromOdooError(callErr)
	}
	return map[string]interface{}{"id": id, "success": true}, nil
}

func (d *Dispatcher) handleCreateBatch(ctx context.Context, ex *extractor) (interface{}, *Error) {
	instance, err := ex.requiredString("instance")
	if err != nil {
		return nil, err
	}
	model, err := ex.requiredString("model")
	if err != nil {
		return nil, err
	}
	records := ex.optionalArray("records")
	if len(records) == 0 {
		return nil, InvalidArguments(fmt.Sprintf("tool: missing required argument %q", "records"))
	}
	if len(records) > maxBatchCreate {
		return nil, InvalidArguments(fmt.Sprintf("create_batch: %d records exceeds the maximum of %d", len(records), maxBatchCreate))
	}
	c, cerr := d.client(ctx, instance)
	if cerr != nil {
		return nil, cerr
	}
	ids := make([]int64, 0, len(records))
	for _, r := range records {
		values, ok := r.(map[string]interface{})
		if !ok {
			return nil, InvalidArguments("create_batch: each record must be an object")
		}
		id, callErr := c.Create(ctx, model, values, nil)
		if callErr != nil {
			return nil, FromOdooError(callErr)
		}
		ids = append(ids, id)
	}
	return map[string]interface{}{"ids": ids, "created_count": len(ids)}, nil
}

func (d *Dispatcher) handleWrite(ctx context.Context, ex *extractor) (interface{}, *Error) {
	instance, err := ex.requiredString("instance")
	if err != nil {
		return nil, err
	}
	model, err := ex.requiredString("model")
	if err != nil {
		return nil, err
	}
	ids, err := ex.requiredInt64Slice("ids")
	if err != nil {
		return nil, err
	}
	values, err := ex.requiredMap("values")
	if err != nil {
		return nil, err
	}
	c, cerr := d.client(ctx, instance)
	if cerr != nil {
		return nil, cerr
	}
	ok, callErr := c.Write(ctx, model, ids, values, ex.buildOptions())
	if callErr != nil {
		return nil, FromOdooError(callErr)
	}
	updated := 0
	if ok {
		updated = len(ids)
	}
	return map[string]interface{}{"success": ok, "updated_count": updated}, nil
}

func (d *Dispatcher) handleUnlink(ctx context.Context, ex *extractor) (interface{}, *Error) {
	instance, err := ex.requiredString("instance")
	if err != nil {
		return nil, err
	}
	model, err := ex.requiredString("model")
	if err != nil {
		return nil, err
	}
	ids, err := ex.requiredInt64Slice("ids")
	if err != nil {
		return nil, err
	}
	c, cerr := d.client(ctx, instance)
	if cerr != nil {
		return nil, cerr
	}
	ok, callErr := c.Unlink(ctx, model, ids, ex.buildOptions())
	if callErr != nil {
		return nil, FromOdooError(callErr)
	}
	deleted := 0
	if ok {
		deleted = len(ids)
	}
	return map[string]interface{}{"success": ok, "deleted_count": deleted}, nil
}

func (d *Dispatcher) handleSearchCount(ctx context.Context, ex *extractor) (interface{}, *Error) {
	instance, err := ex.requiredString("instance")
	if err != nil {
		return nil, err
	}
	model, err := ex.requiredString("model")
	if err != nil {
		return nil, err
	}
	c, cerr := d.client(ctx, instance)
	if cerr != nil {
		return nil, cerr
	}
	domain := ex.optionalDomain("domain")
	count, callErr := c.SearchCount(ctx, model, domain, ex.buildOptions())
	if callErr != nil {
		return nil, FromOdooError(callErr)
	}
	return map[string]interface{}{"count": count}, nil
}

func (d *Dispatcher) handleExecute(ctx context.Context, ex *extractor) (interface{}, *Error) {
	instance, err := ex.requiredString("instance")
	if err != nil {
		return nil, err
	}
	model, err := ex.requiredString("model")
	if err != nil {
		return nil, err
	}
	method, err := ex.requiredString("method")
	if err != nil {
		return nil, err
	}
	c, cerr := d.client(ctx, instance)
	if cerr != nil {
		return nil, cerr
	}
	callArgs := ex.optionalArray("args")
	kwargs := ex.optionalMap("kwargs")
	result, callErr := c.ExecuteKw(ctx, model, method, callArgs, kwargs)
	if callErr != nil {
		return nil, FromOdooError(callErr)
	}
	return map[string]interface{}{"result": result}, nil
}

func (d *Dispatcher) handleWorkflowAction(ctx context.Context, ex *extractor) (interface{}, *Error) {
	instance, err := ex.requiredString("instance")
	if err != nil {
		return nil, err
	}
	model, err := ex.requiredString("model")
	if err != nil {
		return nil, err
	}
	action, err := ex.requiredString("action")
	if err != nil {
		return nil, err
	}
	ids, err := ex.requiredInt64Slice("ids")
	if err != nil {
		return nil, err
	}
	c, cerr := d.client(ctx, instance)
	if cerr != nil {
		return nil, cerr
	}
	idsIface := make([]interface{}, len(ids))
	for i, id := range ids {
		idsIface[i] = id
	}
	result, callErr := c.ExecuteKw(ctx, model, action, []interface{}{idsIface}, nil)
	if callErr != nil {
		return nil, FromOdooError(callErr)
	}
	return map[string]interface{}{"result": result, "executed_on": ids}, nil
}

func (d *Dispatcher) handleGenerateReport(ctx context.Context, ex *extractor) (interface{}, *Error) {
	instance, err := ex.requiredString("instance")
	if err != nil {
		return nil, err
	}
	report, err := ex.requiredString("report")
	if err != nil {
		return nil, err
	}
	ids, err := ex.requiredInt64Slice("ids")
	if err != nil {
		return nil, err
	}
	c, cerr := d.client(ctx, instance)
	if cerr != nil {
		return nil, cerr
	}
	result, callErr := c.GenerateReport(ctx, report, ids)
	if callErr != nil {
		return nil, FromOdooError(callErr)
	}
	if _, decErr := base64.StdEncoding.DecodeString(result.PDFBase64); decErr != nil && result.PDFBase64 != "" {
		return nil, Internal("generate_report: malformed pdf payload", decErr)
	}
	return map[string]interface{}{
		"pdf_base64":  result.PDFBase64,
		"report_name": result.ReportName,
		"record_ids":  ids,
	}, nil
}

func (d *Dispatcher) handleGetModelMetadata(ctx context.Context, ex *extractor) (interface{}, *Error) {
	instance, err := ex.requiredString("instance")
	if err != nil {
		return nil, err
	}
	model, err := ex.requiredString("model")
	if err != nil {
		return nil, err
	}
	c, cerr := d.client(ctx, instance)
	if cerr != nil {
		return nil, cerr
	}
	attributes := ex.optionalStringSlice("attributes")

	var fetchErr *Error
	fields, cacheErr := d.cache.GetOrFetch(instance, model, func() (map[string]interface{}, error) {
		f, callErr := c.FieldsGet(ctx, model, attributes)
		if callErr != nil {
			fetchErr = FromOdooError(callErr)
			return nil, callErr
		}
		return f, nil
	})
	if cacheErr != nil {
		if fetchErr != nil {
			return nil, fetchErr
		}
		return nil, Internal("get_model_metadata", cacheErr)
	}
	return map[string]interface{}{
		"model": map[string]interface{}{
			"name":   model,
			"fields": fields,
		},
	}, nil
}

func (d *Dispatcher) handleListModels(ctx context.Context, ex *extractor) (interface{}, *Error) {
	instance, err := ex.requiredString("instance")
	if err != nil {
		return nil, err
	}
	c, cerr := d.client(ctx, instance)
	if cerr != nil {
		return nil, cerr
	}
	domain := ex.optionalDomain("domain")
	records, count, callErr := c.ListModels(ctx, domain, ex.buildOptions())
	if callErr != nil {
		return nil, FromOdooError(callErr)
	}
	return map[string]interface{}{"records": records, "count": count}, nil
}

func (d *Dispatcher) handleCheckAccess(ctx context.Context, ex *extractor) (interface{}, *Error) {
	instance, err := ex.requiredString("instance")
	if err != nil {
		return nil, err
	}
	model, err := ex.requiredString("model")
	if err != nil {
		return nil, err
	}
	operation, err := ex.requiredString("operation")
	if err != nil {
		return nil, err
	}
	c, cerr := d.client(ctx, instance)
	if cerr != nil {
		return nil, cerr
	}
	ids := ex.optionalInt64Slice("ids")
	allowed, callErr := c.CheckAccess(ctx, model, operation, ids)
	if callErr != nil {
		return nil, FromOdooError(callErr)
	}
	return map[string]interface{}{"allowed": allowed, "operation": operation}, nil
}

func (d *Dispatcher) handleReadGroup(ctx context.Context, ex *extractor) (interface{}, *Error) {
	instance, err := ex.requiredString("instance")
	if err != nil {
		return nil, err
	}
	model, err := ex.requiredString("model")
	if err != nil {
		return nil, err
	}
	fields, err := ex.requiredStringSlice("fields")
	if err != nil {
		return nil, err
	}
	groupBy, err := ex.requiredStringSlice("groupBy")
	if err != nil {
		return nil, err
	}
	c, cerr := d.client(ctx, instance)
	if cerr != nil {
		return nil, cerr
	}
	domain := ex.optionalDomain("domain")
	groups, callErr := c.ReadGroup(ctx, model, domain, fields, groupBy, ex.buildOptions())
	if callErr != nil {
		return nil, FromOdooError(callErr)
	}
	return map[string]interface{}{"groups": groups}, nil
}

func (d *Dispatcher) handleNameSearch(ctx context.Context, ex *extractor) (interface{}, *Error) {
	instance, err := ex.requiredString("instance")
	if err != nil {
		return nil, err
	}
	model, err := ex.requiredString("model")
	if err != nil {
		return nil, err
	}
	name, err := ex.requiredString("name")
	if err != nil {
		return nil, err
	}
	c, cerr := d.client(ctx, instance)
	if cerr != nil {
		return nil, cerr
	}
	domain := ex.optionalDomain("domain")
	results, callErr := c.NameSearch(ctx, model, name, domain, ex.buildOptions())
	if callErr != nil {
		return nil, FromOdooError(callErr)
	}
	return map[string]interface{}{"records": results}, nil
}

func (d *Dispatcher) handleNameGet(ctx context.Context, ex *extractor) (interface{}, *Error) {
	instance, err := ex.requiredString("instance")
	if err != nil {
		return nil, err
	}
	model, err := ex.requiredString("model")
	if err != nil {
		return nil, err
	}
	ids, err := ex.requiredInt64Slice("ids")
	if err != nil {
		return nil, err
	}
	c, cerr := d.client(ctx, instance)
	if cerr != nil {
		return nil, cerr
	}
	results, callErr := c.NameGet(ctx, model, ids)
	if callErr != nil {
		return nil, FromOdooError(callErr)
	}
	return map[string]interface{}{"records": results}, nil
}

func (d *Dispatcher) handleDefaultGet(ctx context.Context, ex *extractor) (interface{}, *Error) {
	instance, err := ex.requiredString("instance")
	if err != nil {
		return nil, err
	}
	model, err := ex.requiredString("model")
	if err != nil {
		return nil, err
	}
	fields, err := ex.requiredStringSlice("fields")
	if err != nil {
		return nil, err
	}
	c, cerr := d.client(ctx, instance)
	if cerr != nil {
		return nil, cerr
	}
	defaults, callErr := c.DefaultGet(ctx, model, fields)
	if callErr != nil {
		return nil, FromOdooError(callErr)
	}
	return map[string]interface{}{"defaults": defaults}, nil
}

func (d *Dispatcher) handleCopy(ctx context.Context, ex *extractor) (interface{}, *Error) {
	instance, err := ex.requiredString("instance")
	if err != nil {
		return nil, err
	}
	model, err := ex.requiredString("model")
	if err != nil {
		return nil, err
	}
	id, err := ex.requiredInt64("id")
	if err != nil {
		return nil, err
	}
	c, cerr := d.client(ctx, instance)
	if cerr != nil {
		return nil, cerr
	}
	defaults := ex.optionalMap("defaults")
	newID, callErr := c.Copy(ctx, model, id, defaults)
	if callErr != nil {
		return nil, FromOdooError(callErr)
	}
	return map[string]interface{}{"id": newID, "success": true}, nil
}

func (d *Dispatcher) handleOnchange(ctx context.Context, ex *extractor) (interface{}, *Error) {
	instance, err := ex.requiredString("instance")
	if err != nil {
		return nil, err
	}
	model, err := ex.requiredString("model")
	if err != nil {
		return nil, err
	}
	values, err := ex.requiredMap("values")
	if err != nil {
		return nil, err
	}
	fieldNames, err := ex.requiredStringSlice("fieldNames")
	if err != nil {
		return nil, err
	}
	c, cerr := d.client(ctx, instance)
	if cerr != nil {
		return nil, cerr
	}
	fieldOnchange := ex.optionalStringMap("fieldOnchange")
	result, callErr := c.Onchange(ctx, model, values, fieldNames, fieldOnchange)
	if callErr != nil {
		return nil, FromOdooError(callErr)
	}
	out := map[string]interface{}{"value": result["value"]}
	if w, ok := result["warning"]; ok {
		out["warning"] = w
	}
	if dom, ok := result["domain"]; ok {
		out["domain"] = dom
	}
	return out, nil
}
