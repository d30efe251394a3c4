package main

import "marketsnap/internal/cli"

func main() {
	cli.Execute()
}
