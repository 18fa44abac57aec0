// Command widget-server serves HTML widgets to MCP hosts.
package main

import "github.com/ecociel/mcp-app-go/internal/cli"

var version = "dev"

func main() {
	cli.Execute(version)
}
