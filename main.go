package main

import (
	"alexandria/cmd/handlers"
)

func main() {
	handlers.Execute()
}
