package main

import "tokenscope/internal/cli"

func main() {
	cli.Execute()
}
