package main

import "github.com/livelyd/livelyd/cmd/livelyd/commands"

func main() {
	commands.Execute()
}
