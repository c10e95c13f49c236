// Command triggerd serves a position-synchronized trigger channel over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/w1xm/ecam_trigger/icepap"
	"github.com/w1xm/ecam_trigger/icepap/simulator"
	"github.com/w1xm/ecam_trigger/internal/modbus"
	"github.com/w1xm/ecam_trigger/modbusdev"
	"github.com/w1xm/ecam_trigger/motion"
	"github.com/w1xm/ecam_trigger/registry"
	"github.com/w1xm/ecam_trigger/statelog"
	"github.com/w1xm/ecam_trigger/trigger"
	"golang.org/x/sync/errgroup"
)

type device interface {
	motion.Device
	Close() error
}

type modbusDevice struct {
	*modbusdev.Device
	client *modbus.Client
}

func (d modbusDevice) Close() error {
	return d.client.Close()
}

// openDevice connects the configured backend. The simulator runs in g.
func openDevice(ctx context.Context, g *errgroup.Group, cfg Config, reg *registry.Registry, log logrus.FieldLogger) (device, error) {
	switch cfg.Backend {
	case "icepap":
		ep, err := reg.ResolveDevice(cfg.Controller)
		if err != nil {
			return nil, err
		}
		return icepap.DialTCP(ctx, ep.String(), cfg.Timeout)
	case "serial":
		return icepap.OpenSerial(cfg.SerialPort, cfg.Baud, cfg.Timeout)
	case "modbus":
		client := &modbus.Client{
			Port:     cfg.SerialPort,
			BaudRate: cfg.Baud,
			SlaveId:  1,
			Address:  cfg.ModbusAddr,
			URL:      cfg.ModbusURL,
			Password: cfg.ModbusPass,
			Timeout:  cfg.Timeout,
			Log:      log,
		}
		if err := client.Open(); err != nil {
			return nil, err
		}
		d, err := modbusdev.New(client)
		if err != nil {
			client.Close()
			return nil, err
		}
		return modbusDevice{Device: d, client: client}, nil
	case "simulate":
		var axes []int
		for _, name := range reg.Motors() {
			cal, err := reg.Resolve(name)
			if err != nil {
				return nil, err
			}
			axes = append(axes, cal.Axis)
		}
		sim, conn := simulator.New(axes...)
		sim.Log = log.WithField("component", "simulator")
		g.Go(func() error {
			return sim.Run(ctx)
		})
		log.WithField("axes", axes).Info("using simulated device")
		return icepap.NewClient(conn, cfg.Timeout), nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

func main() {
	cfg, err := LoadConfig(os.Args[1:])
	if err != nil {
		logrus.Fatal(err)
	}
	log := NewLogger(cfg.LogLevel)

	reg, err := registry.Load(cfg.Registry)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	dev, err := openDevice(ctx, g, cfg, reg, log)
	if err != nil {
		log.Fatal(err)
	}
	defer dev.Close()

	c, err := trigger.New(cfg.Trigger(), dev, reg.For(cfg.Controller), log)
	if err != nil {
		log.Fatal(err)
	}
	if err := c.ConfigureMotor(""); err != nil {
		log.WithError(err).Warn("default motor not configured")
	}

	var rec *statelog.Logger
	if cfg.InfluxServer != "" {
		rec = statelog.Open(cfg.InfluxServer, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket, cfg.Controller, log)
		defer rec.Close()
	}

	s := NewServer(c, rec, log)
	srv := &http.Server{
		Handler:      s.Routes(),
		Addr:         cfg.Addr,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	g.Go(func() error {
		return s.PollLoop(ctx, cfg.PollInterval)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		log.Infof("Listening on %v", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}
}
