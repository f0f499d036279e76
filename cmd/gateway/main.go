package main

import "github.com/fabian4/peaudiosys-gateway/cmd/gateway/cmd"

func main() {
	cmd.Execute()
}
