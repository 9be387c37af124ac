// relayctl is the CLI client for the meshdrop-relay daemon's admin
// HTTP surface.
package main

import "github.com/meshdrop/relay/cmd/relayctl/commands"

func main() {
	commands.Execute()
}
