package main

import "github.com/q-controller/imgrelay/src/imgrelayd/cmd"

func main() {
	cmd.Execute()
}
