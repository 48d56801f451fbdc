package main

import "github.com/yshk-mrt/parental-control-agent-sub000/internal/cli"

func main() {
	cli.Execute()
}
