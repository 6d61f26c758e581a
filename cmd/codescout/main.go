package main

import "codescout/internal/server"

func main() {
	server.Run()
}
