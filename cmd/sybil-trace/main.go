// sybil-trace — inspect, summarize, and export sybil-scope trace files.
package main

import "github.com/elda27/sybil-scope/internal/cli"

func main() {
	cli.Execute()
}
