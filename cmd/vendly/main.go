package main

import "github.com/vendly-hq/vendly/internal/cli"

func main() {
	cli.Execute()
}
