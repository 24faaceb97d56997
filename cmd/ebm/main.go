package main

import "github.com/jmcleod/ebm/cmd/ebm/cmd"

func main() {
	cmd.Execute()
}
