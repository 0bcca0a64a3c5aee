package main

import "github.com/jsherman999/roomrelay/internal/daemon"

func main() {
	daemon.Main()
}
