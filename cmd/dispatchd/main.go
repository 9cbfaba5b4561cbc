package main

import "github.com/notfall/dispatchd/internal/daemon"

func main() { daemon.Main() }
