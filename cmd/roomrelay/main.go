package main

import "github.com/jsherman999/roomrelay/internal/cli"

func main() {
	cli.Main()
}
