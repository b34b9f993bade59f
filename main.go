package main

import "ReelForge/cmd"

func main() {
	cmd.Execute()
}
