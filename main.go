package main

import "github.com/agusx1211/parley/internal/cli"

func main() {
	cli.Execute()
}
