// Package tools implements the protected MCP tool surface: a registry of
// named tools and the HTTP handlers serving /mcp/v1/tools/list and
// /mcp/v1/tools/call.
//
// The handlers perform no authentication of their own. Mount them behind the
// root package's ValidateToken middleware.
package tools
