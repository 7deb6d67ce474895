// cyudp-node is a demonstration CLI exercising the Cyphal/UDP
// transport: publish, subscribe, and call/serve requests over a
// loopback or LAN multicast group.
package main

import (
	"github.com/cyphal-go/udptransport/cmd/cyudp-node/commands"
)

func main() {
	commands.Execute()
}
