package main

import "github.com/pasalku/payment-gateway/cmd"

func main() {
	cmd.Execute()
}
