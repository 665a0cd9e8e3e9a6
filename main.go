package main

import "github.com/kagesort/prdl/cmd"

func main() {
	cmd.Execute()
}
