// mqtt-stats is a passive broker monitor: it subscribes to everything
// and reports the top-talking topics by message count, rate and size.
// Useful for spotting a bridge that floods the broker.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"solar-mqtt-bridge/internal/config"
)

type topicStats struct {
	count int
	bytes int
}

type monitor struct {
	mu      sync.Mutex
	topics  map[string]*topicStats
	started time.Time
	topN    int
}

func (m *monitor) record(topic string, size int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.topics[topic]
	if !ok {
		st = &topicStats{}
		m.topics[topic] = st
	}
	st.count++
	st.bytes += size
}

// snapshot returns the topics sorted by message count, descending.
func (m *monitor) snapshot() ([]string, map[string]topicStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]topicStats, len(m.topics))
	names := make([]string, 0, len(m.topics))
	for t, st := range m.topics {
		out[t] = *st
		names = append(names, t)
	}
	sort.Slice(names, func(i, j int) bool {
		if out[names[i]].count != out[names[j]].count {
			return out[names[i]].count > out[names[j]].count
		}
		return names[i] < names[j]
	})
	return names, out
}

func (m *monitor) report(final bool) {
	names, stats := m.snapshot()
	elapsed := time.Since(m.started).Seconds()
	if elapsed <= 0 {
		elapsed = 1
	}

	header := fmt.Sprintf("--- MQTT statistics (%.0fs elapsed) ---", elapsed)
	if final {
		header = fmt.Sprintf("=== Final MQTT statistics (%.0fs) ===", elapsed)
	}
	fmt.Println()
	fmt.Println(header)

	if len(names) == 0 {
		fmt.Println("No messages received")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TOPIC\tCOUNT\tRATE msg/s\tAVG SIZE")
	limit := m.topN
	if limit > len(names) {
		limit = len(names)
	}
	totalCount, totalBytes := 0, 0
	for _, t := range names {
		totalCount += stats[t].count
		totalBytes += stats[t].bytes
	}
	for _, t := range names[:limit] {
		st := stats[t]
		fmt.Fprintf(w, "%s\t%d\t%.2f\t%d\n", t, st.count, float64(st.count)/elapsed, st.bytes/st.count)
	}
	w.Flush()

	fmt.Printf("Total: %d messages, %.2f KB, %.2f msg/s over %d topics\n",
		totalCount, float64(totalBytes)/1024, float64(totalCount)/elapsed, len(names))
}

func main() {
	topN := flag.Int("top", 10, "number of top talkers to display")
	interval := flag.Duration("interval", 10*time.Second, "display update interval")
	duration := flag.Duration("duration", time.Hour, "monitoring duration")
	filter := flag.String("filter", "#", "topic filter to subscribe to")
	quiet := flag.Bool("quiet", false, "suppress periodic updates, only show the final summary")
	flag.Parse()

	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	m := &monitor{topics: make(map[string]*topicStats), topN: *topN}

	opts := paho.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTT.Host, cfg.MQTT.Port))
	opts.SetClientID(fmt.Sprintf("mqtt-stats-%d", os.Getpid()))
	opts.SetUsername(cfg.MQTT.Username)
	opts.SetPassword(cfg.MQTT.Password)
	opts.SetOnConnectHandler(func(client paho.Client) {
		fmt.Printf("Connected to %s:%d, subscribing to %q\n", cfg.MQTT.Host, cfg.MQTT.Port, *filter)
		client.Subscribe(*filter, 0, func(_ paho.Client, msg paho.Message) {
			m.record(msg.Topic(), len(msg.Payload()))
		})
	})

	client := paho.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		fmt.Fprintf(os.Stderr, "cannot connect: %v\n", token.Error())
		os.Exit(1)
	}
	m.started = time.Now()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	deadline := time.After(*duration)
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !*quiet {
				m.report(false)
			}
		case <-deadline:
			m.report(true)
			client.Disconnect(250)
			return
		case <-sig:
			fmt.Println("\nInterrupted")
			m.report(true)
			client.Disconnect(250)
			return
		}
	}
}
