// netsync synchronizes revision repositories between peers.
package main

import "github.com/vcsnet/netsync/cmd"

var (
	version string
	commit  string
)

func main() {
	cmd.Version = version
	cmd.Commit = commit
	cmd.Execute()
}
