package main

import "screenrelay/cmd/cli/command"

func main() {
	command.Execute()
}
