// Package opcua provides an environment probe backed by an OPC UA server,
// for benches where ambient conditions come from a facility monitoring
// system instead of a local sensor dongle. The probe subscribes to the
// configured temperature and humidity nodes and serves the latest cached
// values; a reading older than the freshness bound degrades to not-OK.
package opcua

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/moonmd/SCPI-Bench/internal/domain"
	"github.com/moonmd/SCPI-Bench/internal/ports"
)

// Config captures the runtime details required to open an OPC UA session.
type Config struct {
	Endpoint        string        `yaml:"endpoint"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	SecurityMode    string        `yaml:"security_mode"`
	SecurityPolicy  string        `yaml:"security_policy"`
	ApplicationName string        `yaml:"application_name"`
	PublishInterval time.Duration `yaml:"publish_interval"`
	TempNode        string        `yaml:"temp_node"`
	HumidityNode    string        `yaml:"humidity_node"`
	MaxAge          time.Duration `yaml:"max_age"`
}

func (c *Config) ApplyDefaults() {
	if c.SecurityMode == "" {
		c.SecurityMode = "None"
	}
	if c.SecurityPolicy == "" {
		c.SecurityPolicy = "None"
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "SCPI-Bench"
	}
	if c.PublishInterval <= 0 {
		c.PublishInterval = 250 * time.Millisecond
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 10 * time.Second
	}
}

func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if c.TempNode == "" || c.HumidityNode == "" {
		return errors.New("temp_node and humidity_node are required")
	}
	return nil
}

const (
	handleTemp     = 1
	handleHumidity = 2
)

type reading struct {
	value float64
	at    time.Time
}

// Probe is an EnvironmentProbe fed by an OPC UA subscription.
type Probe struct {
	cfg    Config
	client *opcua.Client
	sub    *opcua.Subscription
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	temp     reading
	humidity reading
	started  bool
}

// NewProbe validates the configuration; Start opens the session.
func NewProbe(cfg Config) (*Probe, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Probe{cfg: cfg}, nil
}

// Start connects, subscribes to both nodes and begins caching updates.
func (p *Probe) Start(parent context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return fmt.Errorf("opcua probe already started")
	}
	p.mu.Unlock()

	ctx, cancel := context.WithCancel(parent)

	opts := []opcua.Option{
		opcua.SecurityModeString(normalizeSecurityMode(p.cfg.SecurityMode)),
		opcua.SecurityPolicy(p.cfg.SecurityPolicy),
		opcua.ApplicationName(p.cfg.ApplicationName),
		opcua.AutoReconnect(true),
	}
	if p.cfg.Username != "" {
		opts = append(opts, opcua.AuthUsername(p.cfg.Username, p.cfg.Password))
	} else {
		opts = append(opts, opcua.AuthAnonymous())
	}

	client, err := opcua.NewClient(p.cfg.Endpoint, opts...)
	if err != nil {
		cancel()
		return fmt.Errorf("opcua new client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		cancel()
		return fmt.Errorf("opcua connect: %w", err)
	}

	notifyCh := make(chan *opcua.PublishNotificationData, 8)
	sub, err := client.Subscribe(ctx, &opcua.SubscriptionParameters{
		Interval: p.cfg.PublishInterval,
	}, notifyCh)
	if err != nil {
		cancel()
		_ = client.Close(ctx)
		return fmt.Errorf("opcua subscribe: %w", err)
	}

	for handle, node := range map[uint32]string{
		handleTemp:     p.cfg.TempNode,
		handleHumidity: p.cfg.HumidityNode,
	} {
		nodeID, err := ua.ParseNodeID(node)
		if err != nil {
			cancel()
			_ = sub.Cancel(ctx)
			_ = client.Close(ctx)
			return fmt.Errorf("parse node id %q: %w", node, err)
		}
		req := opcua.NewMonitoredItemCreateRequestWithDefaults(nodeID, ua.AttributeIDValue, handle)
		res, err := sub.Monitor(ctx, ua.TimestampsToReturnBoth, req)
		if err != nil {
			cancel()
			_ = sub.Cancel(ctx)
			_ = client.Close(ctx)
			return fmt.Errorf("monitor node %q: %w", node, err)
		}
		if len(res.Results) == 0 || res.Results[0].StatusCode != ua.StatusOK {
			cancel()
			_ = sub.Cancel(ctx)
			_ = client.Close(ctx)
			return fmt.Errorf("monitor node %q failed", node)
		}
	}

	p.mu.Lock()
	p.client = client
	p.sub = sub
	p.cancel = cancel
	p.started = true
	p.mu.Unlock()

	p.wg.Add(1)
	go p.consume(ctx, notifyCh)
	return nil
}

// Stop cancels the subscription and closes the session.
func (p *Probe) Stop() error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	cancel := p.cancel
	sub := p.sub
	client := p.client
	p.started = false
	p.cancel = nil
	p.sub = nil
	p.client = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	ctx, ctxCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer ctxCancel()

	var err error
	if sub != nil {
		if e := sub.Cancel(ctx); e != nil && !errors.Is(e, context.Canceled) {
			err = errors.Join(err, e)
		}
	}
	if client != nil {
		if e := client.Close(ctx); e != nil && !errors.Is(e, context.Canceled) {
			err = errors.Join(err, e)
		}
	}
	p.wg.Wait()
	return err
}

func (p *Probe) consume(ctx context.Context, ch <-chan *opcua.PublishNotificationData) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case notif := <-ch:
			if notif == nil || notif.Error != nil {
				continue
			}
			data, ok := notif.Value.(*ua.DataChangeNotification)
			if !ok {
				continue
			}
			for _, item := range data.MonitoredItems {
				fv, ok := variantToFloat(item.Value.Value)
				if !ok {
					continue
				}
				ts := item.Value.ServerTimestamp
				if ts.IsZero() {
					ts = item.Value.SourceTimestamp
				}
				if ts.IsZero() {
					ts = time.Now()
				}
				p.store(item.ClientHandle, fv, ts)
			}
		}
	}
}

func (p *Probe) store(handle uint32, v float64, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch handle {
	case handleTemp:
		p.temp = reading{value: v, at: at}
	case handleHumidity:
		p.humidity = reading{value: v, at: at}
	}
}

// ReadEnvironment serves the latest cached values. Readings older than
// MaxAge mean the facility feed stalled; the sample degrades to not-OK.
func (p *Probe) ReadEnvironment(ctx context.Context) (domain.Environment, error) {
	if err := ctx.Err(); err != nil {
		return domain.Environment{}, err
	}
	p.mu.Lock()
	temp, hum := p.temp, p.humidity
	p.mu.Unlock()

	now := time.Now()
	if temp.at.IsZero() || hum.at.IsZero() {
		return domain.Environment{}, errors.New("opcua probe: no data received yet")
	}
	if now.Sub(temp.at) > p.cfg.MaxAge || now.Sub(hum.at) > p.cfg.MaxAge {
		return domain.Environment{}, fmt.Errorf("opcua probe: data stale (temp %s, humidity %s)",
			now.Sub(temp.at), now.Sub(hum.at))
	}
	return domain.Environment{
		TempC:       temp.value,
		TempK:       temp.value + 273.15,
		HumidityPct: hum.value,
		OK:          true,
	}, nil
}

func variantToFloat(v *ua.Variant) (float64, bool) {
	if v == nil {
		return 0, false
	}
	switch val := v.Value().(type) {
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case int8:
		return float64(val), true
	case uint8:
		return float64(val), true
	case int16:
		return float64(val), true
	case uint16:
		return float64(val), true
	case int32:
		return float64(val), true
	case uint32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	default:
		return 0, false
	}
}

func normalizeSecurityMode(mode string) string {
	switch strings.ToLower(mode) {
	case "sign":
		return "Sign"
	case "signandencrypt", "signencrypt", "sign_and_encrypt", "sign+encrypt":
		return "SignAndEncrypt"
	default:
		return "None"
	}
}

var _ ports.EnvironmentProbe = (*Probe)(nil)
