package main

import "eduapp/cmd/eduappctl/cmd"

func main() {
	cmd.Execute()
}
