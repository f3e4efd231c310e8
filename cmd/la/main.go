package main

import "github.com/OpenTraceLab/OpenTraceLA/cmd/la/cmd"

func main() {
	cmd.Execute()
}
