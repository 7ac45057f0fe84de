package main

import "github.com/bascanada/epidata/cmd"

func main() {
	cmd.Execute()
}
