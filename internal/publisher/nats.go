package publisher

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// Kind is the last token of a change subject.
type Kind string

const (
	KindLocation   Kind = "location"
	KindStops      Kind = "stops"
	KindSOS        Kind = "sos"
	KindPassengers Kind = "passengers"
)

const subjectRoot = "bus"

// AllSubjects matches every change event of every bus.
const AllSubjects = subjectRoot + ".*.>"

// Event is the envelope of every change published on the channel.
type Event struct {
	Type      Kind            `json:"type"`
	BusNumber string          `json:"bus_number"`
	At        time.Time       `json:"at"`
	Payload   json.RawMessage `json:"payload"`
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

type NATSPublisher struct {
	nc          *nats.Conn
	logSubjects bool
	metrics     PublisherMetrics
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

func NewNATSPublisher(url, name string, logSubjects bool, m PublisherMetrics) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Printf("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return &NATSPublisher{nc: nc, logSubjects: logSubjects, metrics: m}, nil
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

// Subject is the subject a change of kind on bus is published to.
func Subject(kind Kind, busNumber string) string {
	return fmt.Sprintf("%s.%s.%s", subjectRoot, subjectToken(busNumber), kind)
}

// Encode wraps payload into an Event envelope.
func Encode(kind Kind, busNumber string, at time.Time, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return json.Marshal(Event{Type: kind, BusNumber: busNumber, At: at, Payload: raw})
}

// Publish sends one change event for busNumber.
func (p *NATSPublisher) Publish(kind Kind, busNumber string, payload any) error {
	subject := Subject(kind, busNumber)
	b, err := Encode(kind, busNumber, time.Now().UTC(), payload)
	if err != nil {
		return err
	}
	if p.logSubjects {
		log.Printf("nats publish subject=%s", subject)
	}
	start := time.Now()
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

// Subscribe delivers the kind events of one bus to handler until the
// returned function is called.
func (p *NATSPublisher) Subscribe(kind Kind, busNumber string, handler func(Event)) (func(), error) {
	return p.subscribe(Subject(kind, busNumber), handler)
}

// SubscribeAll delivers every change event of every bus.
func (p *NATSPublisher) SubscribeAll(handler func(Event)) (func(), error) {
	return p.subscribe(AllSubjects, handler)
}

func (p *NATSPublisher) subscribe(subject string, handler func(Event)) (func(), error) {
	sub, err := p.nc.Subscribe(subject, func(m *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(m.Data, &ev); err != nil {
			log.Printf("nats drop malformed event on %s: %v", m.Subject, err)
			return
		}
		handler(ev)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return func() {
		if err := sub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed {
			log.Printf("nats unsubscribe %s: %v", subject, err)
		}
	}, nil
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
