// Package statelog records the trigger channel state in InfluxDB.
package statelog

import (
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api/write"
	"github.com/sirupsen/logrus"
	"github.com/w1xm/ecam_trigger/trigger"
)

const Measurement = "trigger.state"

// Heartbeat is how often an unchanged state is written again.
const Heartbeat = time.Minute

type Writer interface {
	WritePoint(p *write.Point)
}

type Logger struct {
	w          Writer
	controller string

	mu        sync.Mutex
	last      sample
	lastWrite time.Time
	close     func()
}

type sample struct {
	state  trigger.OperationalState
	status string
	motor  string
}

func New(w Writer, controller string) *Logger {
	return &Logger{w: w, controller: controller, last: sample{state: -1}}
}

// Open connects to an InfluxDB server. Writes are asynchronous and their
// errors are logged to log.
func Open(server, token, org, bucket, controller string, log logrus.FieldLogger) *Logger {
	client := influxdb2.NewClient(server, token)
	writeApi := client.WriteApi(org, bucket)
	go func() {
		for err := range writeApi.Errors() {
			log.WithError(err).Warn("influx write failed")
		}
	}()
	l := New(writeApi, controller)
	l.close = func() {
		writeApi.Close()
		client.Close()
	}
	return l
}

// Record writes a point when the state changed since the last one, or when
// the last one is older than Heartbeat. It reports whether it wrote.
func (l *Logger) Record(state trigger.OperationalState, status, motor string, t time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := sample{state: state, status: status, motor: motor}
	if s == l.last && t.Sub(l.lastWrite) < Heartbeat {
		return false
	}
	l.w.WritePoint(influxdb2.NewPoint(Measurement,
		map[string]string{
			"controller": l.controller,
			"motor":      motor,
		},
		map[string]interface{}{
			"state":  state.String(),
			"status": status,
			"alarm":  state == trigger.Alarm,
			"moving": state == trigger.Moving,
		},
		t,
	))
	l.last = s
	l.lastWrite = t
	return true
}

func (l *Logger) Close() {
	if l.close != nil {
		l.close()
	}
}
