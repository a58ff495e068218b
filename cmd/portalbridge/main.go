package main

import (
	"portalbridge/cmd/portalbridge/commands"
	"portalbridge/internal/components/serviceutil"
)

func main() {
	commands.ExecuteContext(serviceutil.SignalContext())
}
