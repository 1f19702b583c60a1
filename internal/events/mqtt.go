package events

import (
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/snarg/yt-transcripts/internal/metrics"
)

const publishTimeout = 5 * time.Second

// Fetched describes a transcript freshly retrieved from upstream.
type Fetched struct {
	VideoID   string    `json:"video_id"`
	Segments  int       `json:"segments"`
	Duration  float64   `json:"duration_sec"`
	Forced    bool      `json:"forced"`
	Fetcher   string    `json:"fetcher"`
	FetchedAt time.Time `json:"fetched_at"`
}

// publisher is the subset of mqtt.Client used here.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Notifier publishes fetch events to an MQTT broker:
//
//	{prefix}/transcripts/{video_id}  one Fetched event per fresh fetch
//	{prefix}/status                  retained "online"/"offline"
type Notifier struct {
	conn      mqtt.Client
	pub       publisher
	prefix    string
	connected atomic.Bool
	log       zerolog.Logger
}

type Options struct {
	BrokerURL   string
	ClientID    string
	TopicPrefix string
	Username    string
	Password    string
	Log         zerolog.Logger
}

func Connect(opts Options) (*Notifier, error) {
	n := &Notifier{
		prefix: trimPrefix(opts.TopicPrefix),
		log:    opts.Log,
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetWill(n.statusTopic(), "offline", 1, true).
		SetOnConnectHandler(n.onConnect).
		SetConnectionLostHandler(n.onConnectionLost)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	n.conn = mqtt.NewClient(clientOpts)
	n.pub = n.conn
	token := n.conn.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}

	return n, nil
}

func (n *Notifier) onConnect(client mqtt.Client) {
	n.connected.Store(true)
	n.log.Info().Str("prefix", n.prefix).Msg("mqtt connected")
	client.Publish(n.statusTopic(), 1, true, "online")
}

func (n *Notifier) onConnectionLost(_ mqtt.Client, err error) {
	n.connected.Store(false)
	n.log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
}

// TranscriptFetched publishes ev without blocking the caller. Delivery is
// best-effort; failures are logged and counted.
func (n *Notifier) TranscriptFetched(ev Fetched) {
	payload, err := json.Marshal(ev)
	if err != nil {
		n.log.Error().Err(err).Str("video_id", ev.VideoID).Msg("encode fetch event")
		return
	}
	token := n.pub.Publish(n.transcriptTopic(ev.VideoID), 0, false, payload)
	go n.await(token, ev.VideoID)
}

func (n *Notifier) await(token mqtt.Token, videoID string) {
	if !token.WaitTimeout(publishTimeout) {
		metrics.EventsPublishedTotal.WithLabelValues("error").Inc()
		n.log.Warn().Str("video_id", videoID).Msg("mqtt publish timed out")
		return
	}
	if err := token.Error(); err != nil {
		metrics.EventsPublishedTotal.WithLabelValues("error").Inc()
		n.log.Warn().Err(err).Str("video_id", videoID).Msg("mqtt publish failed")
		return
	}
	metrics.EventsPublishedTotal.WithLabelValues("ok").Inc()
}

func (n *Notifier) IsConnected() bool {
	return n.connected.Load()
}

func (n *Notifier) Close() {
	n.log.Info().Msg("disconnecting mqtt client")
	if n.connected.Load() {
		n.conn.Publish(n.statusTopic(), 1, true, "offline").WaitTimeout(time.Second)
	}
	n.conn.Disconnect(1000)
}

func (n *Notifier) transcriptTopic(videoID string) string {
	return n.prefix + "/transcripts/" + videoID
}

func (n *Notifier) statusTopic() string {
	return n.prefix + "/status"
}

func trimPrefix(p string) string {
	return strings.TrimRight(strings.TrimSpace(p), "/")
}
