package main

import "github.com/mvp-joe/nodefixture/internal/cli"

func main() {
	cli.Execute()
}
