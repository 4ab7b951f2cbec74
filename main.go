package main

import "github.com/nycrime-kg/crimedash/cmd"

func main() {
	cmd.Execute()
}
