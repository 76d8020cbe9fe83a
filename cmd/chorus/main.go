package main

import "github.com/felixgeelhaar/chorus/cmd/chorus/cli"

func main() {
	cli.Execute()
}
