package main

import "github.com/notfall/dispatchd/internal/cli"

func main() { cli.Main() }
