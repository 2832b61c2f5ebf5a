// devclient is an interactive probe for the coordination backend. It
// impersonates one agent: joins rooms, chats, watches the retained room
// state, and issues history and memory queries from a prompt.
//
// Usage: devclient [agentId]
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"agent-town/domain"
	"agent-town/wire"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
)

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(2)
	}

	agentID := fmt.Sprintf("agent-%d", rand.Intn(1000))
	if len(os.Args) > 1 {
		agentID = os.Args[1]
	}

	probe := newProbe(cfg, agentID)
	if err := probe.connect(); err != nil {
		fmt.Fprintf(os.Stderr, "broker connection failed: %v\n", err)
		os.Exit(1)
	}
	probe.loop()
}

type probe struct {
	cfg         Config
	agentID     string
	client      mqtt.Client
	currentRoom string
	stopBeat    chan struct{}
}

func newProbe(cfg Config, agentID string) *probe {
	p := &probe{cfg: cfg, agentID: agentID, stopBeat: make(chan struct{})}

	will, _ := json.Marshal(wire.Presence{Status: wire.StatusOffline, Ts: time.Now().UnixMilli()})

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID("dev-" + agentID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetBinaryWill(fmt.Sprintf("agents/%s/status", agentID), will, 0, true)

	opts.OnConnect = func(client mqtt.Client) {
		p.info("connected: %s", cfg.BrokerURL)
		p.subscribeBase()
		if p.currentRoom != "" {
			p.subRoomChat(p.currentRoom)
			p.publish(fmt.Sprintf("rooms/%s/join", p.currentRoom), wire.JoinLeave{AgentID: p.agentID, Ts: time.Now().UnixMilli()}, false)
		}
		p.publishOnline()
	}

	p.client = mqtt.NewClient(opts)
	return p
}

func (p *probe) connect() error {
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("connect timed out")
	}
	if err := token.Error(); err != nil {
		return err
	}
	go p.heartbeat()
	return nil
}

func (p *probe) loop() {
	p.showHelp()
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Printf("[%s]> ", p.agentID)
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		cmd, arg, _ := strings.Cut(line, " ")
		switch cmd {
		case "exit":
			p.exit()
			return
		case "help":
			p.showHelp()
		case "join":
			p.join(strings.TrimSpace(arg))
		case "leave":
			p.leave()
		case "say":
			p.say(arg)
		case "history":
			p.history()
		case "find":
			p.find(arg)
		default:
			p.warn("unknown command %q", cmd)
		}
	}
	p.exit()
}

func (p *probe) showHelp() {
	fmt.Println("Commands:")
	fmt.Println("  join <roomId>     (e.g., join library)")
	fmt.Println("  leave             (leave current room, stay online)")
	fmt.Println("  say <message>     (send chat to current room)")
	fmt.Println("  history           (last messages of current room)")
	fmt.Println("  find <query>      (search own memories)")
	fmt.Println("  exit              (offline + disconnect)")
}

func (p *probe) join(roomID string) {
	if roomID == "" {
		p.warn("usage: join <roomId>")
		return
	}
	if p.currentRoom != "" {
		p.publish(fmt.Sprintf("rooms/%s/leave", p.currentRoom), wire.JoinLeave{AgentID: p.agentID, Ts: time.Now().UnixMilli()}, false)
		p.client.Unsubscribe(wire.ChatOutTopic(domain.RoomID(p.currentRoom)))
	}
	p.publish(fmt.Sprintf("rooms/%s/join", roomID), wire.JoinLeave{AgentID: p.agentID, Ts: time.Now().UnixMilli()}, false)
	p.currentRoom = roomID
	p.subRoomChat(roomID)
	p.info("joined %s", roomID)
}

func (p *probe) leave() {
	if p.currentRoom == "" {
		p.warn("not in a room")
		return
	}
	p.publish(fmt.Sprintf("rooms/%s/leave", p.currentRoom), wire.JoinLeave{AgentID: p.agentID, Ts: time.Now().UnixMilli()}, false)
	p.client.Unsubscribe(wire.ChatOutTopic(domain.RoomID(p.currentRoom)))
	p.info("left %s", p.currentRoom)
	p.currentRoom = ""
}

func (p *probe) say(msg string) {
	if p.currentRoom == "" {
		p.warn("join a room first")
		return
	}
	if msg == "" {
		p.warn("usage: say <message>")
		return
	}
	p.publish(fmt.Sprintf("rooms/%s/chat/in", p.currentRoom), wire.ChatIn{
		RoomID:      &p.currentRoom,
		FromAgentID: p.agentID,
		Type:        "text",
		Msg:         &msg,
		Ts:          ptr(time.Now().UnixMilli()),
	}, false)
}

func (p *probe) history() {
	if p.currentRoom == "" {
		p.warn("join a room first")
		return
	}
	requestID := uuid.NewString()
	topic := wire.RoomHistoryResponseTopic(domain.RoomID(p.currentRoom), requestID)
	p.client.Subscribe(topic, 0, func(_ mqtt.Client, m mqtt.Message) {
		defer func() { go p.client.Unsubscribe(topic) }()
		var response wire.RoomHistoryResponse
		if err := json.Unmarshal(m.Payload(), &response); err != nil {
			p.warn("bad history response: %v", err)
			return
		}
		p.renderHistory(response.Messages, response.Error)
	})
	p.publish(fmt.Sprintf("rooms/%s/history/request", p.currentRoom), wire.RoomHistoryRequest{RequestID: requestID}, false)
}

func (p *probe) find(query string) {
	if query == "" {
		p.warn("usage: find <query>")
		return
	}
	requestID := uuid.NewString()
	topic := wire.MemoryFindResponseTopic(p.agentID, requestID)
	p.client.Subscribe(topic, 0, func(_ mqtt.Client, m mqtt.Message) {
		defer func() { go p.client.Unsubscribe(topic) }()
		var response wire.MemoryFindResponse
		if err := json.Unmarshal(m.Payload(), &response); err != nil {
			p.warn("bad memory response: %v", err)
			return
		}
		p.renderMemories(response.Results, response.Error)
	})
	p.publish(fmt.Sprintf("agents/%s/memory/find/request", p.agentID), wire.MemoryFindRequest{
		RequestID: requestID,
		TextQuery: query,
	}, false)
}

func (p *probe) renderHistory(messages []wire.HistoryMessage, queryError string) {
	fmt.Println()
	if queryError != "" {
		p.warn("history failed: %s", queryError)
		return
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Sent At", "Sender", "Lang", "Text"})
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	for _, m := range messages {
		table.Append([]string{
			time.UnixMilli(m.SentAt).Format("15:04:05"),
			m.SenderID,
			m.Lang,
			m.Text,
		})
	}
	table.Render()
}

func (p *probe) renderMemories(results []wire.MemoryResult, queryError string) {
	fmt.Println()
	if queryError != "" {
		p.warn("memory search failed: %s", queryError)
		return
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Score", "From", "Location", "Text"})
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	for _, r := range results {
		table.Append([]string{
			fmt.Sprintf("%.3f", r.Score),
			r.From,
			r.Location,
			r.Text,
		})
	}
	table.Render()
}

func (p *probe) subscribeBase() {
	filters := map[string]byte{wire.TopicRoomsState: 0, "rooms/+/members": 0}
	p.client.SubscribeMultiple(filters, func(_ mqtt.Client, m mqtt.Message) {
		fmt.Printf("\n%s %s: %s\n[%s]> ", p.tag("MQTT"), m.Topic(), string(m.Payload()), p.agentID)
	})
}

func (p *probe) subRoomChat(roomID string) {
	p.client.Subscribe(wire.ChatOutTopic(domain.RoomID(roomID)), 0, func(_ mqtt.Client, m mqtt.Message) {
		var out wire.ChatOut
		if err := json.Unmarshal(m.Payload(), &out); err != nil {
			fmt.Printf("\n%s %s: %s\n[%s]> ", p.tag("MQTT"), m.Topic(), string(m.Payload()), p.agentID)
			return
		}
		fmt.Printf("\n%s [%s] %s: %s\n[%s]> ", p.tag("CHAT"), out.RoomID, out.FromAgentID, out.Msg, p.agentID)
	})
}

func (p *probe) publishOnline() {
	p.publish(fmt.Sprintf("agents/%s/status", p.agentID),
		wire.Presence{Status: wire.StatusOnline, Ts: time.Now().UnixMilli()}, true)
}

// exit sends the retained offline status best-effort; if the link is down
// the broker's last-will covers it.
func (p *probe) exit() {
	close(p.stopBeat)
	if p.client.IsConnectionOpen() {
		p.publish(fmt.Sprintf("agents/%s/status", p.agentID),
			wire.Presence{Status: wire.StatusOffline, Ts: time.Now().UnixMilli()}, true)
		time.Sleep(100 * time.Millisecond)
	}
	p.client.Disconnect(250)
}

func (p *probe) heartbeat() {
	interval := time.Duration(p.cfg.HeartbeatSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopBeat:
			return
		case <-ticker.C:
			token := p.client.Publish(fmt.Sprintf("agents/%s/heartbeat", p.agentID), 0, false, "1")
			token.Wait()
		}
	}
}

func (p *probe) publish(topic string, payload any, retain bool) {
	body, err := json.Marshal(payload)
	if err != nil {
		p.warn("marshal failed for %s: %v", topic, err)
		return
	}
	token := p.client.Publish(topic, 0, retain, body)
	token.Wait()
	if err := token.Error(); err != nil {
		p.warn("publish failed for %s: %v", topic, err)
	}
}

func (p *probe) tag(kind string) string {
	label := fmt.Sprintf("[%s][%s]", kind, p.agentID)
	if p.cfg.Colours {
		return color.New(color.BgBlack, color.FgGreen).Render(label)
	}
	return label
}

func (p *probe) info(format string, args ...any) {
	fmt.Printf("%s %s\n", p.tag("DEV"), fmt.Sprintf(format, args...))
}

func (p *probe) warn(format string, args ...any) {
	label := fmt.Sprintf("[DEV][%s]", p.agentID)
	if p.cfg.Colours {
		label = color.New(color.FgYellow).Render(label)
	}
	fmt.Printf("%s %s\n", label, fmt.Sprintf(format, args...))
}

func ptr[T any](v T) *T { return &v }
