package main

import "github.com/lanwire/lanchat/internal/cli"

func main() {
	cli.Execute()
}
