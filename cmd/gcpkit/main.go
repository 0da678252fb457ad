package main

import "github.com/gcpkit/gcpkit/cmd/gcpkit/cmd"

func main() {
	cmd.Execute()
}
