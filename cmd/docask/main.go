// Package main is the entry point for the DocAsk service.
package main

import (
	_ "go.uber.org/automaxprocs/maxprocs"

	"github.com/kart-io/docask/cmd/docask/app"
)

func main() {
	app.NewApp().Run()
}
