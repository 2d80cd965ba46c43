package main

import "github.com/zapfield/zapfield/cmd"

func main() {
	cmd.Execute()
}
