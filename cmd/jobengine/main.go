// Package main provides the entry point for the jobengine CLI.
package main

import "swift/job-engine/cmd"

func main() {
	cmd.Execute()
}
