package opcbus

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/dashlink/dashlink/internal/domain"
	"github.com/dashlink/dashlink/internal/ports"
)

// Config captures the runtime details required to open an OPC UA session and
// map telemetry paths onto the server's address space.
type Config struct {
	Endpoint         string        `yaml:"endpoint"`
	Username         string        `yaml:"username"`
	Password         string        `yaml:"password"`
	SecurityMode     string        `yaml:"security_mode"`
	SecurityPolicy   string        `yaml:"security_policy"`
	ApplicationName  string        `yaml:"application_name"`
	Namespace        uint16        `yaml:"namespace"`
	IDPrefix         string        `yaml:"id_prefix"`
	PublishInterval  time.Duration `yaml:"publish_interval"`
	SamplingInterval time.Duration `yaml:"sampling_interval"`
	WriteBuffer      int           `yaml:"write_buffer"`
}

func (c *Config) ApplyDefaults() {
	if c.SecurityMode == "" {
		c.SecurityMode = "None"
	}
	if c.SecurityPolicy == "" {
		c.SecurityPolicy = "None"
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "DashLink Bridge"
	}
	if c.PublishInterval <= 0 {
		c.PublishInterval = 100 * time.Millisecond
	}
	if c.SamplingInterval < 0 {
		c.SamplingInterval = 0
	}
	if c.WriteBuffer <= 0 {
		c.WriteBuffer = 256
	}
}

func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	return nil
}

// Bus bridges the path/value surface onto an OPC UA server. Sends go through
// a buffered write pump so cyclic tasks never wait on the session; subscribes
// become monitored items feeding last-value cells.
type Bus struct {
	cfg    Config
	client *opcua.Client
	sub    *opcua.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	cells      map[uint32]*livecell
	nextHandle uint32
	closed     bool

	writeCh chan writeOp
}

type writeOp struct {
	id  *ua.NodeID
	val *ua.Variant
}

type livecell struct {
	mu   sync.RWMutex
	kind domain.Kind
	val  domain.Value
}

func (c *livecell) store(v domain.Value) {
	c.mu.Lock()
	c.val = v
	c.mu.Unlock()
}

func (c *livecell) load() domain.Value {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.val
}

// Dial connects to the configured endpoint and prepares the shared
// subscription. The bus is usable until Close.
func Dial(cfg Config) (*Bus, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	client, err := opcua.NewClient(cfg.Endpoint, clientOptions(cfg)...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("opcua new client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("opcua connect: %w", err)
	}

	notifyCh := make(chan *opcua.PublishNotificationData, 64)
	sub, err := client.Subscribe(ctx, &opcua.SubscriptionParameters{
		Interval: cfg.PublishInterval,
	}, notifyCh)
	if err != nil {
		cancel()
		_ = client.Close(ctx)
		return nil, fmt.Errorf("opcua subscribe: %w", err)
	}

	b := &Bus{
		cfg:     cfg,
		client:  client,
		sub:     sub,
		ctx:     ctx,
		cancel:  cancel,
		cells:   make(map[uint32]*livecell),
		writeCh: make(chan writeOp, cfg.WriteBuffer),
	}

	b.wg.Add(2)
	go b.consume(notifyCh)
	go b.writePump()
	return b, nil
}

func (b *Bus) Publish(path string, kind domain.Kind) (ports.Publisher, error) {
	id, err := b.nodeID(path)
	if err != nil {
		return nil, err
	}
	return &opcPublisher{bus: b, id: id, kind: kind}, nil
}

func (b *Bus) Subscribe(path string, kind domain.Kind, def domain.Value) (ports.Subscriber, error) {
	id, err := b.nodeID(path)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, errors.New("opcua bus closed")
	}
	b.nextHandle++
	handle := b.nextHandle
	cell := &livecell{kind: kind, val: def}
	b.cells[handle] = cell
	b.mu.Unlock()

	req := opcua.NewMonitoredItemCreateRequestWithDefaults(id, ua.AttributeIDValue, handle)
	if b.cfg.SamplingInterval > 0 {
		req.RequestedParameters.SamplingInterval = float64(b.cfg.SamplingInterval / time.Millisecond)
	}
	res, err := b.sub.Monitor(b.ctx, ua.TimestampsToReturnBoth, req)
	if err != nil {
		b.dropCell(handle)
		return nil, fmt.Errorf("monitor %q: %w", path, err)
	}
	if len(res.Results) == 0 || res.Results[0].StatusCode != ua.StatusOK {
		b.dropCell(handle)
		return nil, fmt.Errorf("monitor %q rejected", path)
	}

	return &opcSubscriber{bus: b, handle: handle, cell: cell}, nil
}

// Exists reads the node's Value attribute; a readable value means a peer has
// already materialized the path.
func (b *Bus) Exists(path string) bool {
	id, err := b.nodeID(path)
	if err != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(b.ctx, 2*time.Second)
	defer cancel()

	resp, err := b.client.Read(ctx, &ua.ReadRequest{
		NodesToRead: []*ua.ReadValueID{
			{NodeID: id, AttributeID: ua.AttributeIDValue},
		},
	})
	if err != nil || len(resp.Results) == 0 {
		return false
	}
	r := resp.Results[0]
	return r.Status == ua.StatusOK && r.Value != nil
}

func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	if e := b.sub.Cancel(ctx); e != nil && !errors.Is(e, context.Canceled) {
		err = errors.Join(err, e)
	}
	if e := b.client.Close(ctx); e != nil && !errors.Is(e, context.Canceled) {
		err = errors.Join(err, e)
	}

	b.wg.Wait()
	return err
}

func (b *Bus) consume(ch <-chan *opcua.PublishNotificationData) {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return
		case notif := <-ch:
			if notif == nil {
				continue
			}
			if notif.Error != nil {
				log.Printf("opcua: notification error: %v", notif.Error)
				continue
			}
			b.processNotification(notif.Value)
		}
	}
}

func (b *Bus) processNotification(val interface{}) {
	data, ok := val.(*ua.DataChangeNotification)
	if !ok {
		return
	}

	for _, item := range data.MonitoredItems {
		b.mu.Lock()
		cell, ok := b.cells[item.ClientHandle]
		b.mu.Unlock()
		if !ok || item.Value == nil {
			continue
		}
		v, ok := variantToValue(item.Value.Value, cell.kind)
		if !ok {
			log.Printf("opcua: skipping handle %d, unsupported payload for kind %s", item.ClientHandle, cell.kind)
			continue
		}
		cell.store(v)
	}
}

func (b *Bus) writePump() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return
		case op := <-b.writeCh:
			ctx, cancel := context.WithTimeout(b.ctx, 2*time.Second)
			_, err := b.client.Write(ctx, &ua.WriteRequest{
				NodesToWrite: []*ua.WriteValue{
					{
						NodeID:      op.id,
						AttributeID: ua.AttributeIDValue,
						Value: &ua.DataValue{
							EncodingMask: ua.DataValueValue,
							Value:        op.val,
						},
					},
				},
			})
			cancel()
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("opcua: write failed: %v", err)
			}
		}
	}
}

func (b *Bus) dropCell(handle uint32) {
	b.mu.Lock()
	delete(b.cells, handle)
	b.mu.Unlock()
}

func (b *Bus) nodeID(path string) (*ua.NodeID, error) {
	s := fmt.Sprintf("ns=%d;s=%s%s", b.cfg.Namespace, b.cfg.IDPrefix, path)
	id, err := ua.ParseNodeID(s)
	if err != nil {
		return nil, fmt.Errorf("parse node id %q: %w", s, err)
	}
	return id, nil
}

type opcPublisher struct {
	bus  *Bus
	id   *ua.NodeID
	kind domain.Kind
}

func (p *opcPublisher) Send(v domain.Value) error {
	if v.Kind != p.kind {
		return fmt.Errorf("opcua: send kind %s on %s handle", v.Kind, p.kind)
	}
	variant, err := valueToVariant(v)
	if err != nil {
		return err
	}
	select {
	case p.bus.writeCh <- writeOp{id: p.id, val: variant}:
		return nil
	default:
		return errors.New("opcua: write buffer full")
	}
}

func (p *opcPublisher) Close() error { return nil }

type opcSubscriber struct {
	bus    *Bus
	handle uint32
	cell   *livecell
}

func (s *opcSubscriber) Latest() domain.Value { return s.cell.load() }

func (s *opcSubscriber) Close() error {
	s.bus.dropCell(s.handle)
	return nil
}

func clientOptions(cfg Config) []opcua.Option {
	opts := []opcua.Option{
		opcua.SecurityModeString(normalizeSecurityMode(cfg.SecurityMode)),
		opcua.SecurityPolicy(normalizeSecurityPolicy(cfg.SecurityPolicy)),
		opcua.ApplicationName(cfg.ApplicationName),
		opcua.AutoReconnect(true),
	}
	if cfg.Username != "" {
		opts = append(opts, opcua.AuthUsername(cfg.Username, cfg.Password))
	} else {
		opts = append(opts, opcua.AuthAnonymous())
	}
	return opts
}

func valueToVariant(v domain.Value) (*ua.Variant, error) {
	switch v.Kind {
	case domain.KindFloat:
		return ua.NewVariant(v.Num)
	case domain.KindBool:
		return ua.NewVariant(v.Bool)
	case domain.KindString:
		return ua.NewVariant(v.Str)
	case domain.KindFloats:
		return ua.NewVariant(v.Floats)
	case domain.KindStrings:
		return ua.NewVariant(v.Strs)
	case domain.KindStruct:
		// No generic struct encoding on the wire; ship CBOR as a byte string.
		b, err := cbor.Marshal(v.Any)
		if err != nil {
			return nil, fmt.Errorf("opcua encode struct: %w", err)
		}
		return ua.NewVariant(b)
	default:
		return nil, fmt.Errorf("opcua: unsupported kind %s", v.Kind)
	}
}

func variantToValue(v *ua.Variant, kind domain.Kind) (domain.Value, bool) {
	if v == nil {
		return domain.Value{}, false
	}

	switch kind {
	case domain.KindFloat:
		f, ok := variantToFloat(v)
		if !ok {
			return domain.Value{}, false
		}
		return domain.Float(f), true
	case domain.KindBool:
		b, ok := v.Value().(bool)
		if !ok {
			return domain.Value{}, false
		}
		return domain.Bool(b), true
	case domain.KindString:
		s, ok := v.Value().(string)
		if !ok {
			return domain.Value{}, false
		}
		return domain.Str(s), true
	case domain.KindFloats:
		switch val := v.Value().(type) {
		case []float64:
			return domain.FloatSlice(val), true
		case []float32:
			out := make([]float64, len(val))
			for i, f := range val {
				out[i] = float64(f)
			}
			return domain.FloatSlice(out), true
		default:
			return domain.Value{}, false
		}
	case domain.KindStrings:
		s, ok := v.Value().([]string)
		if !ok {
			return domain.Value{}, false
		}
		return domain.StrSlice(s), true
	case domain.KindStruct:
		raw, ok := v.Value().([]byte)
		if !ok {
			return domain.Value{}, false
		}
		var decoded any
		if err := cbor.Unmarshal(raw, &decoded); err != nil {
			return domain.Value{}, false
		}
		return domain.Struct(decoded), true
	default:
		return domain.Value{}, false
	}
}

func variantToFloat(v *ua.Variant) (float64, bool) {
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

func normalizeSecurityPolicy(policy string) string {
	if policy == "" {
		return "None"
	}
	return policy
}

var _ ports.Bus = (*Bus)(nil)
