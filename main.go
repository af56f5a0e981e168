package main

import "vtagent/cmd"

func main() {
	cmd.Execute()
}
