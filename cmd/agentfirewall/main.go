// Command agentfirewall runs the MCP security gateway.
package main

import "github.com/IsaacHuo/agent-firewall/cmd/agentfirewall/cmd"

func main() {
	cmd.Execute()
}
