package dispatcher

import (
	"context"
	"time"

	"github.com/smart-mcp-proxy/odoo-mcp/internal/odoo"
)

// staleLogAge is the cutoff for database_cleanup's ir.logging sweep (§4.F.1:
// "ir.logging older than 30 days").
const staleLogAge = 30 * 24 * time.Hour

// handleDatabaseCleanup implements §4.F.1's database_cleanup: a
// deterministic read-then-conditional-write sequence over the fixed set of
// "orphan-likely" models (ir.attachment with no res_model, ir.logging
// older than 30 days). Attachments are selected by the unset res_model
// alone; a res_id pointing at a deleted record is not detected. dry_run
// (default true) suppresses every write and reports what would have been
// removed.
func (d *Dispatcher) handleDatabaseCleanup(ctx context.Context, ex *extractor) (interface{}, *Error) {
	instance, err := ex.requiredString("instance")
	if err != nil {
		return nil, err
	}
	dryRun := ex.optionalBool("dryRun", true)

	c, cerr := d.client(ctx, instance)
	if cerr != nil {
		return nil, cerr
	}

	removed, callErr := fixedSetCleanup(ctx, c, dryRun)
	if callErr != nil {
		return nil, FromOdooError(callErr)
	}
	return map[string]interface{}{"removed": removed, "dry_run": dryRun}, nil
}

// handleDeepCleanup implements §4.F.1's deep_cleanup: the same dry_run and
// guard contract as database_cleanup, applied across an operator-supplied
// list of models (§9 Open Question: the full affected-model list isn't
// specified, so the caller names the models to sweep). An empty models list
// falls back to database_cleanup's fixed set rather than being a no-op; an
// omitted models argument is rejected as invalid arguments. For each explicitly named model it removes records that are
// inactive, a conservative, composable definition of "orphaned" that
// generalizes across arbitrary models without Odoo-specific business
// knowledge.
func (d *Dispatcher) handleDeepCleanup(ctx context.Context, ex *extractor) (interface{}, *Error) {
	instance, err := ex.requiredString("instance")
	if err != nil {
		return nil, err
	}
	models, err := ex.requiredStringSlice("models")
	if err != nil {
		return nil, err
	}
	dryRun := ex.optionalBool("dryRun", true)

	c, cerr := d.client(ctx, instance)
	if cerr != nil {
		return nil, cerr
	}

	if len(models) == 0 {
		removed, callErr := fixedSetCleanup(ctx, c, dryRun)
		if callErr != nil {
			return nil, FromOdooError(callErr)
		}
		return map[string]interface{}{"removed": removed, "dry_run": dryRun}, nil
	}

	removed := map[string]int{}
	for _, model := range models {
		count, callErr := cleanupInactiveRecords(ctx, c, model, dryRun)
		if callErr != nil {
			return nil, FromOdooError(callErr)
		}
		removed[model] = count
	}
	return map[string]interface{}{"removed": removed, "dry_run": dryRun}, nil
}

// fixedSetCleanup runs database_cleanup's fixed sweep: orphaned
// ir.attachment records and ir.logging records older than staleLogAge.
func fixedSetCleanup(ctx context.Context, c odoo.Client, dryRun bool) (map[string]int, error) {
	attachments, err := cleanupOrphanedAttachments(ctx, c, dryRun)
	if err != nil {
		return nil, err
	}
	logs, err := cleanupStaleLogs(ctx, c, dryRun)
	if err != nil {
		return nil, err
	}
	return map[string]int{"ir.attachment": attachments, "ir.logging": logs}, nil
}

func cleanupOrphanedAttachments(ctx context.Context, c odoo.Client, dryRun bool) (int, error) {
	domain := odoo.Domain{[]interface{}{"res_model", "=", false}}
	ids, err := c.Search(ctx, "ir.attachment", domain, &odoo.Options{Limit: 1000})
	if err != nil {
		return 0, err
	}
	if dryRun || len(ids) == 0 {
		return len(ids), nil
	}
	if _, err := c.Unlink(ctx, "ir.attachment", ids, nil); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// cleanupStaleLogs removes ir.logging entries older than staleLogAge.
func cleanupStaleLogs(ctx context.Context, c odoo.Client, dryRun bool) (int, error) {
	cutoff := time.Now().Add(-staleLogAge).Format("2006-01-02 15:04:05")
	domain := odoo.Domain{[]interface{}{"create_date", "<", cutoff}}
	ids, err := c.Search(ctx, "ir.logging", domain, &odoo.Options{Limit: 1000})
	if err != nil {
		return 0, err
	}
	if dryRun || len(ids) == 0 {
		return len(ids), nil
	}
	if _, err := c.Unlink(ctx, "ir.logging", ids, nil); err != nil {
		return 0, err
	}
	return len(ids), nil
}

func cleanupInactiveRecords(ctx context.Context, c odoo.Client, model string, dryRun bool) (int, error) {
	domain := odoo.Domain{[]interface{}{"active", "=", false}}
	ids, err := c.Search(ctx, model, domain, &odoo.Options{Limit: 1000})
	if err != nil {
		return 0, err
	}
	if dryRun || len(ids) == 0 {
		return len(ids), nil
	}
	if _, err := c.Unlink(ctx, model, ids, nil); err != nil {
		return 0, err
	}
	return len(ids), nil
}
