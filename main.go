package main

import (
	"github.com/sw33tLie/wascope/cmd"
)

func main() {
	cmd.Execute()
}
