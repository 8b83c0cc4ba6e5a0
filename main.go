// The main package for the digest executable.
package main

import "github.com/tvivaldelli/signal-daily-digest/cmd"

func main() {
	cmd.Execute()
}
