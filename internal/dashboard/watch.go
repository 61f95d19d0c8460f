package dashboard

import (
	"context"
	"fmt"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"

	"github.com/driftsync/engine/internal/domain/hooks"
	"github.com/driftsync/engine/internal/domain/outbox"
)

// WatchBoard renders a live terminal status board for the CLI's `watch`
// subcommand: subscription status, outbox pending/failed counts, and a
// scrolling log of gc/conflict/retry events. This is the one consumer
// that makes the teacher's declared-but-unused gizak/termui dependency
// load-bearing, the same treatment given to gobreaker and fasthttp
// elsewhere in this module.
type WatchBoard struct {
	events <-chan Event
	outbox *outbox.Manager

	status   *widgets.Paragraph
	counts   *widgets.Paragraph
	eventLog *widgets.List
	grid     *ui.Grid
	logLines []string
}

// NewWatchBoard renders events as they arrive. events may come from an
// in-process Hub (SubscribeBus, same process as the engine) or from
// DialRemote (a separate `watch` process attached to a running engine's
// WebSocket dashboard endpoint). ob is optional: when nil, the outbox
// panel stays blank rather than erroring, since a remote-attached watch
// has no local Manager to query.
func NewWatchBoard(events <-chan Event, ob *outbox.Manager) *WatchBoard {
	status := widgets.NewParagraph()
	status.Title = "Subscription"
	status.Text = "unknown"

	counts := widgets.NewParagraph()
	counts.Title = "Outbox"
	counts.Text = "pending: -  failed: -"

	eventLog := widgets.NewList()
	eventLog.Title = "Events"
	eventLog.Rows = nil

	grid := ui.NewGrid()
	grid.Set(
		ui.NewRow(1.0/4,
			ui.NewCol(1.0/2, status),
			ui.NewCol(1.0/2, counts),
		),
		ui.NewRow(3.0/4,
			ui.NewCol(1.0, eventLog),
		),
	)

	return &WatchBoard{
		events:   events,
		outbox:   ob,
		status:   status,
		counts:   counts,
		eventLog: eventLog,
		grid:     grid,
	}
}

// SubscribeBus subscribes to every dashboard Topic on bus directly, for a
// `watch` invocation running in the same process as the engine.
func SubscribeBus(ctx context.Context, bus *hooks.Bus) (<-chan Event, error) {
	out := make(chan Event, 64)
	for _, topic := range Topics {
		msgs, err := bus.Subscribe(ctx, topic)
		if err != nil {
			return nil, err
		}
		go func(topic string) {
			for msg := range msgs {
				select {
				case out <- Event{Topic: topic, Payload: msg.Payload, SentAt: time.Now().UnixMilli()}:
				default:
				}
				msg.Ack()
			}
		}(topic)
	}
	return out, nil
}

// Run initializes the termui backend and blocks until ctx is cancelled or
// the user presses q/Ctrl-C. Run restores the terminal itself: ui.Close
// runs on every exit path.
func (b *WatchBoard) Run(ctx context.Context) error {
	if err := ui.Init(); err != nil {
		return fmt.Errorf("dashboard: termui init: %w", err)
	}
	defer ui.Close()

	w, h := ui.TerminalDimensions()
	b.grid.SetRect(0, 0, w, h)
	ui.Render(b.grid)

	uiEvents := ui.PollEvents()
	refresh := time.NewTicker(time.Second)
	defer refresh.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case e := <-uiEvents:
			switch e.ID {
			case "q", "<C-c>":
				return nil
			case "<Resize>":
				payload := e.Payload.(ui.Resize)
				b.grid.SetRect(0, 0, payload.Width, payload.Height)
				ui.Render(b.grid)
			}

		case ev, ok := <-b.events:
			if !ok {
				return nil
			}
			b.applyEvent(ev)
			ui.Render(b.grid)

		case <-refresh.C:
			b.refreshCounts(ctx)
			ui.Render(b.grid)
		}
	}
}

func (b *WatchBoard) applyEvent(ev Event) {
	if ev.Topic == hooks.TopicSubscriptionStatus {
		b.status.Text = string(ev.Payload)
	}

	line := fmt.Sprintf("[%s] %s", time.UnixMilli(ev.SentAt).Format("15:04:05"), ev.Topic)
	b.logLines = append(b.logLines, line)
	if len(b.logLines) > 200 {
		b.logLines = b.logLines[len(b.logLines)-200:]
	}
	b.eventLog.Rows = b.logLines
	b.eventLog.ScrollBottom()
}

func (b *WatchBoard) refreshCounts(ctx context.Context) {
	if b.outbox == nil {
		return
	}
	pending, err := b.outbox.GetPendingCount(ctx)
	if err != nil {
		return
	}
	failed, err := b.outbox.GetFailedOps(ctx)
	if err != nil {
		return
	}
	b.counts.Text = fmt.Sprintf("pending: %d  failed: %d", pending, len(failed))
}
