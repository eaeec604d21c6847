package main

import "github.com/benno1237/bennos-cogs/cmd/cogsbot/cmd"

func main() {
	cmd.Execute()
}
