package main

import "github.com/sergev/stim/cmd"

func main() {
	cmd.Execute()
}
