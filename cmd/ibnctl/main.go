// Command ibnctl is the operator CLI: start/stop/status/reload manage the
// ibnctld daemon process by PID file and signals (grimm's cmd/start.go,
// cmd/stop.go idiom adapted to a single daemon process instead of a
// ctl/api split); submit/list/get/revoke are thin HTTP clients against
// the daemon's submission edge.
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "start":
		err = runStart(os.Args[2:])
	case "stop":
		err = runStop(os.Args[2:])
	case "status":
		err = runStatus(os.Args[2:])
	case "reload":
		err = runReload(os.Args[2:])
	case "submit":
		err = runSubmit(os.Args[2:])
	case "list":
		err = runList(os.Args[2:])
	case "get":
		err = runGet(os.Args[2:])
	case "revoke":
		err = runRevoke(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "ibnctl: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: ibnctl <start|stop|status|reload|submit|list|get|revoke> [flags]")
}
