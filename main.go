package main

import "github.com/Tiliavir/t2r/cmd"

func main() {
	cmd.Execute()
}
