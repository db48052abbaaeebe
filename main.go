package main

import "github.com/oap-labs/oapd/cmd"

func main() {
	cmd.Execute()
}
