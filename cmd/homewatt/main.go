package main

import (
	"homewatt/internal/cli"
)

func main() {
	cli.Execute()
}
