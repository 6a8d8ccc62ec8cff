// Package mqtt is a data-layer driver backed by an MQTT broker. Each path
// maps to a topic below a common root; puts are retained so that a newly
// subscribed peer receives the latest record, and an empty retained payload
// reads as a deletion.
package mqtt

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/abhinavp13/Ubiquitous/internal/datalayer"
)

// Config describes how to reach the broker.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
	// Root is the topic prefix every path is published under.
	Root string
}

// Dialer opens MQTT links.
type Dialer struct {
	cfg Config
}

// NewDialer returns a Dialer for cfg, filling in a client id and root topic when empty.
func NewDialer(cfg Config) *Dialer {
	if cfg.ClientID == "" {
		cfg.ClientID = "weather-sync-" + uuid.NewString()
	}
	if cfg.Root == "" {
		cfg.Root = "weather-sync"
	}
	cfg.Root = strings.TrimSuffix(cfg.Root, "/")
	if cfg.QoS > 2 {
		cfg.QoS = 1
	}
	return &Dialer{cfg: cfg}
}

// Dial connects to the broker and blocks until the first session is up.
// Later connection losses are reported through hooks while paho reconnects.
func (d *Dialer) Dial(ctx context.Context, hooks datalayer.Hooks) (datalayer.Link, error) {
	l := &link{
		cfg:       d.cfg,
		hooks:     hooks,
		listeners: make(map[uint64]datalayer.Listener),
		started:   atomic.NewBool(false),
		closed:    atomic.NewBool(false),
	}

	opts := paho.NewClientOptions().
		AddBroker(d.cfg.Broker).
		SetClientID(d.cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetOrderMatters(true).
		SetMaxReconnectInterval(30 * time.Second)
	if d.cfg.Username != "" {
		opts.SetUsername(d.cfg.Username)
		opts.SetPassword(d.cfg.Password)
	}
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) { l.onLost(err) })
	opts.SetOnConnectHandler(func(paho.Client) { l.onConnect() })

	client := paho.NewClient(opts)
	l.client = client

	tok := client.Connect()
	select {
	case <-tok.Done():
	case <-ctx.Done():
		client.Disconnect(0)
		return nil, ctx.Err()
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("%w: mqtt connect %s: %v", datalayer.ErrUnavailable, d.cfg.Broker, err)
	}
	return l, nil
}

type link struct {
	cfg    Config
	hooks  datalayer.Hooks
	client paho.Client

	started *atomic.Bool
	closed  *atomic.Bool

	mu         sync.Mutex
	listeners  map[uint64]datalayer.Listener
	nextID     uint64
	subscribed bool
}

func (l *link) Put(ctx context.Context, path string, payload []byte) error {
	if l.closed.Load() {
		return datalayer.ErrClosed
	}
	if !l.client.IsConnectionOpen() {
		return fmt.Errorf("%w: mqtt connection is down", datalayer.ErrUnavailable)
	}

	tok := l.client.Publish(topicFor(l.cfg.Root, path), l.cfg.QoS, true, payload)
	select {
	case <-tok.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", path, err)
	}
	return nil
}

func (l *link) AddListener(fn datalayer.Listener) (func(), error) {
	if l.closed.Load() {
		return nil, datalayer.ErrClosed
	}

	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.listeners[id] = fn
	needSub := !l.subscribed
	l.subscribed = true
	l.mu.Unlock()

	if needSub {
		if err := l.subscribe(); err != nil {
			l.mu.Lock()
			delete(l.listeners, id)
			l.subscribed = len(l.listeners) > 0
			l.mu.Unlock()
			return nil, err
		}
	}

	var once sync.Once
	remove := func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.listeners, id)
			last := len(l.listeners) == 0 && l.subscribed
			if last {
				l.subscribed = false
			}
			l.mu.Unlock()

			if last && !l.closed.Load() && l.client.IsConnectionOpen() {
				l.client.Unsubscribe(l.filter())
			}
		})
	}
	return remove, nil
}

func (l *link) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	l.mu.Lock()
	l.listeners = make(map[uint64]datalayer.Listener)
	l.subscribed = false
	l.mu.Unlock()

	l.client.Disconnect(250)
	return nil
}

func (l *link) filter() string {
	return l.cfg.Root + "/#"
}

func (l *link) subscribe() error {
	tok := l.client.Subscribe(l.filter(), l.cfg.QoS, l.onMessage)
	tok.Wait()
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", l.filter(), err)
	}
	return nil
}

func (l *link) onMessage(_ paho.Client, msg paho.Message) {
	ev, ok := eventFromMessage(l.cfg.Root, msg)
	if !ok || l.closed.Load() {
		return
	}

	l.mu.Lock()
	fns := make([]datalayer.Listener, 0, len(l.listeners))
	for _, fn := range l.listeners {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	batch := []datalayer.Event{ev}
	for _, fn := range fns {
		fn(batch)
	}
}

func (l *link) onLost(err error) {
	if l.closed.Load() {
		return
	}
	log.Printf("mqtt: connection to %s lost: %v", l.cfg.Broker, err)
	if l.hooks.Suspended != nil {
		l.hooks.Suspended(fmt.Errorf("%w: %v", datalayer.ErrUnavailable, err))
	}
}

func (l *link) onConnect() {
	if l.closed.Load() {
		return
	}
	// The first OnConnect belongs to Dial itself.
	if !l.started.Swap(true) {
		return
	}

	l.mu.Lock()
	resub := l.subscribed
	l.mu.Unlock()
	if resub {
		// Clean sessions drop subscriptions; the broker replays retained records on resubscribe.
		go func() {
			if err := l.subscribe(); err != nil {
				log.Printf("mqtt: resubscribe: %v", err)
			}
		}()
	}
	if l.hooks.Resumed != nil {
		l.hooks.Resumed()
	}
}

func topicFor(root, path string) string {
	return root + "/" + strings.TrimPrefix(path, "/")
}

func pathFor(root, topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, root+"/")
	if !ok || rest == "" {
		return "", false
	}
	return "/" + rest, true
}

func eventFromMessage(root string, msg paho.Message) (datalayer.Event, bool) {
	path, ok := pathFor(root, msg.Topic())
	if !ok {
		return datalayer.Event{}, false
	}
	if len(msg.Payload()) == 0 {
		return datalayer.Event{Kind: datalayer.EventDeleted, Path: path}, true
	}
	payload := append([]byte(nil), msg.Payload()...)
	return datalayer.Event{Kind: datalayer.EventChanged, Path: path, Payload: payload}, true
}
