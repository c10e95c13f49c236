// Command modbus_server exposes a local Modbus RTU line to remote triggerd
// instances through the HTTP tunnel.
package main

import (
	"flag"
	"net/http"
	"time"

	"github.com/goburrow/modbus"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/w1xm/ecam_trigger/internal/modbus/modbushttp"
)

var (
	addr       = flag.String("addr", "127.0.0.1:8504", "address to listen on")
	password   = flag.String("password", "", "password to require on remote connections")
	serialPort = flag.String("serial", "", "trigger controller serial port name")
	baud       = flag.Int("baud", 19200, "trigger controller baud rate")
	slaveId    = flag.Int("slave_id", 1, "Modbus slave id")
	logLevel   = flag.String("log_level", "info", "log level")
)

func newBus(port string, baud int, slaveId byte) *modbus.RTUClientHandler {
	handler := modbus.NewRTUClientHandler(port)
	handler.BaudRate = baud
	handler.DataBits = 8
	handler.Parity = "N"
	handler.StopBits = 1
	handler.Timeout = 1 * time.Second
	handler.SlaveId = slaveId
	return handler
}

func main() {
	flag.Parse()
	log := logrus.New()
	if level, err := logrus.ParseLevel(*logLevel); err == nil {
		log.SetLevel(level)
	}
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	bus := newBus(*serialPort, *baud, byte(*slaveId))
	if err := bus.Connect(); err != nil {
		log.Fatalf("opening %q: %v", *serialPort, err)
	}
	defer bus.Close()

	r := mux.NewRouter()
	r.Handle("/api/send", &modbushttp.Handler{Bus: bus, Password: *password, Log: log}).Methods(http.MethodPost)
	r.PathPrefix("/debug").Handler(http.DefaultServeMux)
	srv := &http.Server{
		Handler:      r,
		Addr:         *addr,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	log.Infof("Listening on %v", srv.Addr)
	log.Fatal(srv.ListenAndServe())
}
