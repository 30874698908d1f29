package main

import (
	"os"

	"github.com/Dannydropz/phuketradar-sub003/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
