package odoo

// Domain is an Odoo search domain: a list of [field, operator, value]
// triples, optionally preceded by single-element logical operators ("&",
// "|", "!"). It is represented as []interface{} directly (rather than a
// dedicated wrapper type) because MCP tool arguments already arrive as
// []interface{} from JSON-pointer extraction, mirroring
// ilcreatore32-godoo's Domain.ToRPC handling of single-element logical
// entries alongside ordinary triples.
type Domain []interface{}

// Options carries the optional keyword arguments common to most Odoo
// primitives: context, limit, offset, order. ToRPC omits zero values and
// merges Extra, mirroring ilcreatore32-godoo's Options.ToRPC.
type Options struct {
	Context map[string]interface{}
	Limit   int
	Offset  int
	Order   string
	Extra   map[string]interface{}
}

// ToRPC renders o into the kwargs map sent on the wire.
func (o *Options) ToRPC() map[string]interface{} {
	kw := map[string]interface{}{}
	if o == nil {
		return kw
	}
	if len(o.Context) > 0 {
		kw["context"] = o.Context
	}
	if o.Limit > 0 {
		kw["limit"] = o.Limit
	}
	if o.Offset > 0 {
		kw["offset"] = o.Offset
	}
	if o.Order != "" {
		kw["order"] = o.Order
	}
	for k, v := range o.Extra {
		kw[k] = v
	}
	return kw
}
