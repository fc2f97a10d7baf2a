// Command duo runs the duo messaging server.
package main

import (
	"log"

	"duo/cmd/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
