package main

import "github.com/goosewin/glot/cmd"

func main() {
	cmd.Execute()
}
