// Command taskrelay is the operator-facing CLI for the task orchestration
// engine: it drives run/stop/list/star against either a real process host
// or an in-memory simulated one, and can serve the websocket view transport.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
