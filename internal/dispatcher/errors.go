// Package dispatcher routes a resolved tool call to one of the closed set
// of ~22 operation handlers (§4.F), extracting typed arguments from the
// incoming JSON via RFC-6901 pointers. Grounded on the corpus's
// internal/upstream/manager.go CallTool (name resolution, then
// error-classification shape), generalized from ~50 hardcoded handlers to a
// declarative JSON-pointer extraction step.
package dispatcher

import (
	"fmt"

	"github.com/smart-mcp-proxy/odoo-mcp/internal/odoo"
)

// Code is the JSON-RPC error code surfaced to the MCP caller (§7).
type Code int

const (
	CodeParseError      Code = -32700
	CodeInvalidRequest  Code = -32600
	CodeToolNotFound    Code = -32601
	CodeInvalidArgs     Code = -32602
	CodeInternalError   Code = -32603
	CodeOdooError       Code = -32000
	CodeAuthentication  Code = -32001
	CodeAccessDenied    Code = -32002
	CodeOperationDis    Code = -32003
	CodeTimeout         Code = -32004
	CodeTransportError  Code = -32005
)

// Error is the unified failure value returned by CallTool, matching the
// {code, message} shape the MCP session handler serializes (§7).
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// ToolNotFound builds the error for an unknown or guarded-out tool (§4.F
// step 1, §8 property 2).
func ToolNotFound(name string) *Error {
	return newErr(CodeToolNotFound, fmt.Sprintf("tool not found: %s", name), nil)
}

// InvalidArguments builds the error for a missing required pointer or a
// type mismatch during extraction (§4.F step 2).
func InvalidArguments(message string) *Error {
	return newErr(CodeInvalidArgs, message, nil)
}

// OperationDisabled builds the error for a cleanup/write operation whose
// guard is not satisfied (§4.F.1).
func OperationDisabled(toolName string) *Error {
	return newErr(CodeOperationDis, fmt.Sprintf("operation disabled: %s", toolName), nil)
}

// Internal wraps an unexpected handler fault.
func Internal(message string, cause error) *Error {
	return newErr(CodeInternalError, message, cause)
}

// FromOdooError classifies an *odoo.Error into the matching dispatcher
// Error code, per the propagation policy in §7.
func FromOdooError(err error) *Error {
	var oe *odoo.Error
	if !asOdooError(err, &oe) {
		return Internal("odoo client failure", err)
	}
	switch oe.Kind {
	case odoo.KindAuthenticationError:
		return newErr(CodeAuthentication, oe.Message, oe)
	case odoo.KindAccessDenied:
		return newErr(CodeAccessDenied, oe.Message, oe)
	case odoo.KindTimeout:
		return newErr(CodeTimeout, oe.Message, oe)
	case odoo.KindTransportError:
		return newErr(CodeTransportError, oe.Message, oe)
	case odoo.KindInternalError:
		return Internal(oe.Message, oe)
	default:
		return newErr(CodeOdooError, oe.Message, oe)
	}
}

func asOdooError(err error, target **odoo.Error) bool {
	for err != nil {
		if oe, ok := err.(*odoo.Error); ok {
			*target = oe
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}
