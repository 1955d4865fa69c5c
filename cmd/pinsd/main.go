// Package main is pinsd, the pin server.
package main

import (
	"flag"
	"os"

	"github.com/golang/glog"
)

func main() {
	_ = flag.Set("logtostderr", "true")
	if err := newRootCommand(os.Stdout, os.Stderr).Execute(); err != nil {
		glog.Fatalf("pinsd: %v", err)
	}
}
