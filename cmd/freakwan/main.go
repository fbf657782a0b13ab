// Command freakwan runs a FreakWAN mesh node: the protocol core wired to a
// radio driver, with optional message history, MQTT bridging and a status
// web API. Text typed on stdin is sent as a Data message, like the CLI on
// the device's serial console.
package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MatusOllah/slogcolor"

	"github.com/antirez/freakwan/pkg/bridge"
	"github.com/antirez/freakwan/pkg/config"
	"github.com/antirez/freakwan/pkg/radio"
	"github.com/antirez/freakwan/pkg/store"
	"github.com/antirez/freakwan/pkg/wan"
	"github.com/antirez/freakwan/pkg/web"
	"github.com/antirez/freakwan/pkg/wire"
)

type consolePresenter struct{}

func (consolePresenter) Present(text string) {
	fmt.Println(text)
}

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	slog.SetDefault(slog.New(slogcolor.NewHandler(os.Stderr, slogcolor.DefaultOptions)))

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("loading configuration", "error", err)
		os.Exit(1)
	}

	var zero wire.NodeID
	if cfg.NodeID == zero {
		if _, err := rand.Read(cfg.NodeID[:]); err != nil {
			slog.Error("generating node ID", "error", err)
			os.Exit(1)
		}
		slog.Info("generated random node ID", "node", cfg.NodeID)
	}

	keychain := wire.NewKeychain()
	for name, material := range cfg.Keys {
		keychain.AddKey(name, []byte(material))
	}

	settings := wan.Settings{
		Nick:            cfg.Nick,
		Status:          cfg.Status,
		NodeID:          cfg.NodeID,
		Quiet:           cfg.Quiet,
		Promiscuous:     cfg.Promiscuous,
		RelayNumTX:      cfg.Relay.NumTX,
		RelayMaxDelayMS: cfg.Relay.MaxDelayMS,
		RelayRSSILimit:  cfg.Relay.RSSILimit,
		DutyCycleLimit:  cfg.DutyCycleLimit,
		DefaultKey:      cfg.DefaultKey,
	}

	// The hardware SX12xx drivers live out of tree; this binary runs the
	// in-memory driver, which is enough for local loopback and bridging.
	driver := radio.NewSimDriver()

	core := wan.New(settings, driver, keychain, consolePresenter{})

	var history store.HistoryStore
	if cfg.Database.DSN != "" {
		db, err := store.Open(cfg.Database.DSN)
		if err != nil {
			slog.Error("opening message history", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		history = store.NewHistory(db)
		slog.Info("message history enabled")
	}

	var mq *bridge.MQTTBridge
	if cfg.MQTT.Broker != "" {
		mq, err = bridge.NewMQTTBridge(cfg.MQTT.Broker, cfg.MQTT.TopicRoot)
		if err != nil {
			slog.Error("connecting MQTT bridge", "error", err)
			os.Exit(1)
		}
		defer mq.Close()
		slog.Info("MQTT bridge enabled", "broker", cfg.MQTT.Broker)
	}

	if history != nil || mq != nil {
		core.OnMessage = func(m *wire.Message, rssi float32) {
			if history != nil {
				rec := &store.MessageRecord{
					MsgID:   int64(m.ID),
					Sender:  m.Sender.String(),
					Nick:    m.Nick,
					Body:    string(m.Payload),
					RSSI:    rssi,
					Relayed: m.Flags&wire.FlagRelayed != 0,
					KeyName: m.KeyName,
				}
				if err := history.Append(rec); err != nil {
					slog.Warn("appending message history", "error", err)
				}
			}
			if mq != nil {
				mq.PublishMessage(m, rssi)
			}
		}
	}

	if cfg.ListenAddr != "" {
		go func() {
			slog.Info("status API listening", "addr", cfg.ListenAddr)
			if err := http.ListenAndServe(cfg.ListenAddr, web.NewRouter(core)); err != nil {
				slog.Error("status API server", "error", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go readStdin(core)

	slog.Info("node starting", "nick", cfg.Nick, "node", cfg.NodeID,
		"quiet", cfg.Quiet, "version", "0.41")
	if err := core.Run(ctx); err != nil {
		slog.Error("main loop", "error", err)
		os.Exit(1)
	}
	slog.Info("node stopped")
}

// readStdin sends each typed line as a Data message.
func readStdin(core *wan.Core) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if !core.Submit(text) {
			slog.Warn("input buffer full, message dropped")
		}
	}
}
