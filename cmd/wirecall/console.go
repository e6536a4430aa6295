package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/vovakirdan/wirecall/internal/call"
)

const helpText = `commands:
  accept            answer the ringing call
  hangup            end or decline the call
  call <identity>   place a call
  mute | unmute     toggle the microphone
  video on|off      toggle the camera
  status            show the call state and received media
  quit              leave`

// console prints machine output and turns stdin lines into machine
// operations. Observer callbacks run on the machine goroutine, so anything
// that calls back into the machine is started on its own goroutine.
type console struct {
	out        io.Writer
	mu         sync.Mutex
	autoAnswer bool
	oneShot    bool

	ctx     context.Context
	machine *call.Machine
	remote  call.MediaHandle // guarded by mu

	ready      chan struct{}
	readyOnce  sync.Once
	finished   chan struct{}
	finishOnce sync.Once
}

func newConsole(out io.Writer, autoAnswer, oneShot bool) *console {
	return &console{
		out:        out,
		autoAnswer: autoAnswer,
		oneShot:    oneShot,
		ready:      make(chan struct{}),
		finished:   make(chan struct{}),
	}
}

func (c *console) attach(ctx context.Context, m *call.Machine) {
	c.ctx = ctx
	c.machine = m
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format+"\n", args...)
}

// receiveStats is implemented by remote feeds that count what arrives.
type receiveStats interface {
	Kinds() []string
	Stats() (packets, bytes uint64)
}

func (c *console) setRemote(handle call.MediaHandle) {
	c.mu.Lock()
	c.remote = handle
	c.mu.Unlock()
}

func (c *console) remoteSummary() string {
	c.mu.Lock()
	remote := c.remote
	c.mu.Unlock()

	stats, ok := remote.(receiveStats)
	if !ok {
		return ""
	}
	kinds := strings.Join(stats.Kinds(), "+")
	if kinds == "" {
		kinds = "no tracks yet"
	}
	packets, bytes := stats.Stats()
	return fmt.Sprintf("remote media: %s, %d packets, %d bytes", kinds, packets, bytes)
}

func (c *console) finish() {
	c.finishOnce.Do(func() { close(c.finished) })
}

func (c *console) OnLocalIdentityAssigned(identity string) {
	c.printf("your identity: %s", identity)
	c.printf("share it with the other participant so they can call you")
	c.readyOnce.Do(func() { close(c.ready) })
}

func (c *console) OnIncomingCall(caller call.Caller) {
	who := caller.DisplayName
	if caller.Role != "" {
		who = fmt.Sprintf("%s (%s)", who, caller.Role)
	}
	c.printf("incoming call from %s [%s]", who, caller.Identity)
	if c.autoAnswer {
		go func() {
			if err := c.machine.Accept(c.ctx); err != nil {
				c.printf("accept failed: %v", err)
			}
		}()
		return
	}
	c.printf("type 'accept' to answer or 'hangup' to decline")
}

func (c *console) OnMediaAttached(kind call.MediaKind, handle call.MediaHandle) {
	if kind == call.MediaLocal {
		c.printf("local media ready (%s)", handle.ID())
		return
	}
	c.setRemote(handle)
	c.printf("connected: receiving media from the other participant")
}

func (c *console) OnStateChanged(from, to call.State) {
	c.printf("[%s -> %s]", from, to)
}

func (c *console) OnCallEnded() {
	c.setRemote(nil)
	c.printf("call ended")
	if c.oneShot {
		c.finish()
		return
	}
	go func() {
		if err := c.machine.Reset(c.ctx); err == nil {
			c.printf("waiting for calls")
		}
	}()
}

func (c *console) OnError(kind call.ErrorKind, detail string) {
	c.printf("error: %s", detail)
	// Giving up on an unanswered call leaves the machine idle without an
	// OnCallEnded.
	if c.oneShot && kind == call.KindSignalingDeliveryUnknown {
		c.finish()
	}
}

func (c *console) readCommands(ctx context.Context, in io.Reader) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := c.execute(ctx, strings.Fields(line)); quit {
				c.finish()
				return
			}
		}
	}
}

func (c *console) execute(ctx context.Context, fields []string) bool {
	if len(fields) == 0 {
		return false
	}

	var err error
	switch strings.ToLower(fields[0]) {
	case "accept", "a":
		err = c.machine.Accept(ctx)
	case "hangup", "h", "decline":
		err = c.machine.Hangup(ctx)
	case "call":
		if len(fields) != 2 {
			c.printf("usage: call <identity>")
			return false
		}
		err = c.machine.PlaceCall(ctx, fields[1])
	case "mute":
		err = c.machine.SetAudioEnabled(ctx, false)
	case "unmute":
		err = c.machine.SetAudioEnabled(ctx, true)
	case "video":
		if len(fields) != 2 || (fields[1] != "on" && fields[1] != "off") {
			c.printf("usage: video on|off")
			return false
		}
		err = c.machine.SetVideoEnabled(ctx, fields[1] == "on")
	case "status":
		c.printf("state: %s", c.machine.State())
		if summary := c.remoteSummary(); summary != "" {
			c.printf("%s", summary)
		}
	case "help", "?":
		c.printf("%s", helpText)
	case "quit", "exit", "q":
		return true
	default:
		c.printf("unknown command %q, type 'help'", fields[0])
	}
	if err != nil {
		c.printf("%s: %v", fields[0], err)
	}
	return false
}
