// ipmbridge bridges IPM terminal sessions on remote evaluators to panels
// and the console.
package main

import (
	"log"
	"os"

	"github.com/remote-agent-terminal/ipmbridge/internal/cmd"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmsgprefix)
	os.Exit(cmd.Execute())
}
