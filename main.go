package main

import "github.com/arcward/cardtrivia/cmd"

func main() {
	cmd.Execute()
}
