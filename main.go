package main

import "shen/cmd"

func main() {
	cmd.Execute()
}
