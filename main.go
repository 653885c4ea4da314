package main

import "portal/cmd"

func main() {
	cmd.Execute()
}
