package main

import "github.com/careloop/caring-relay/cmd"

func main() {
	cmd.Execute()
}
