// Package tools defines tools exposed to LLM agents: the ITool interface,
// typed function tools, and Definitions of tools calling resource operations.
package tools
