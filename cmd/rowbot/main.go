// Command rowbot is a demo host. It registers a small retail warehouse whose
// pipelines stage sample data into SQLite and merge it into a customer
// dimension and an order fact:
//
//	rowbot list
//	rowbot run -o json
//	rowbot schedule --cron "@every 1m"
package main

import (
	"os"

	"github.com/krisbrooking/Rowbot-sub000/pkg/cli"
	"github.com/krisbrooking/Rowbot-sub000/pkg/registry"
)

var version = "0.1.0"

func main() {
	w := &warehouse{}
	reg := registry.New()
	for _, c := range []registry.Container{
		registry.NewContainer("staging", w.staging),
		registry.NewContainer("retail", w.retail),
	} {
		if err := reg.Register(c); err != nil {
			panic(err)
		}
	}

	code := cli.Main(cli.New("rowbot", version, reg))
	w.close()
	os.Exit(code)
}
