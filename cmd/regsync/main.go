package main

import "github.com/davarch/regsync/cmd/regsync/cli"

func main() {
	cli.Execute()
}
