// Command icepap_sim serves a simulated trigger controller over TCP, for
// running triggerd without hardware.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/w1xm/ecam_trigger/icepap/simulator"
)

var (
	addr = flag.String("addr", "127.0.0.1:5000", "address to listen on")
	axes = flag.String("axes", "1", "comma-separated axes present on the device")
)

func main() {
	flag.Parse()
	var present []int
	for _, a := range strings.Split(*axes, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(a))
		if err != nil {
			logrus.Fatalf("bad axis %q", a)
		}
		present = append(present, n)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	sim := simulator.NewDevice(present...)
	sim.Log = logrus.WithField("component", "simulator")
	ln, err := sim.Listen(ctx, *addr)
	if err != nil {
		logrus.Fatal(err)
	}
	logrus.WithField("axes", present).Infof("Listening on %v", ln)
	<-ctx.Done()
}
