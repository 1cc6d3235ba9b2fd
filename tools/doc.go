// Package tools defines the Tool interfaces served by the tool host, and
// the registration of tools with an MCP server. Each tool lives in its own
// sub-package and can also be called directly with a JSON input.
package tools
