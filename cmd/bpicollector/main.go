package main

import "bpi-collector/internal/cli"

func main() {
	cli.Execute()
}
