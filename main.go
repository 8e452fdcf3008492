package main

import "github.com/miriadlabs/miriad/cmd"

func main() {
	cmd.Execute()
}
