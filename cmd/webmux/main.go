package main

import "github.com/webmux/webmux/internal/cmd"

func main() {
	cmd.Execute()
}
