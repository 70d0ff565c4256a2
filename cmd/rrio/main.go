package main

import "github.com/JohnPlummer/jp-go-rrio/internal/cli"

func main() {
	cli.Execute()
}
