package main

import "portfolio-balancer/internal/cli"

func main() {
	cli.Execute()
}
