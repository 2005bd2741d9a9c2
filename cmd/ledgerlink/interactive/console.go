// Package interactive provides the interactive command-line interface
// for the ledgerlink console.
package interactive

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/helionwallet/ledgerlink/pkg/devicesim"
	"github.com/helionwallet/ledgerlink/pkg/session"
	"github.com/helionwallet/ledgerlink/pkg/txn"
)

// Console handles interactive mode for ledgerlink.
type Console struct {
	mgr    *session.Manager
	sim    *devicesim.Simulator
	rl     *readline.Instance
	events *session.Subscription
}

// New creates a new interactive console.
func New(mgr *session.Manager, sim *devicesim.Simulator) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "ledger> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	return &Console{
		mgr:    mgr,
		sim:    sim,
		rl:     rl,
		events: mgr.Subscribe(16),
	}, nil
}

// Stdout returns a writer that properly coordinates with the readline input.
// Use this for log output to avoid interfering with the command prompt.
func (c *Console) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Stderr returns a writer that properly coordinates with the readline input.
func (c *Console) Stderr() io.Writer {
	return c.rl.Stderr()
}

// Run starts the interactive command loop.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	go c.watchEvents(ctx)

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			// EOF or interrupt
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			c.printHelp()

		case "connect", "c":
			c.cmdConnect(ctx, args)

		case "disconnect", "d":
			c.cmdDisconnect()

		case "sign", "s":
			c.cmdSign(ctx, args)

		case "status":
			c.cmdStatus()

		case "unplug":
			c.sim.Unplug()
			fmt.Fprintln(c.rl.Stdout(), "Device unplugged")

		case "replug":
			c.sim.Replug()
			fmt.Fprintln(c.rl.Stdout(), "Device plugged back in")

		case "busy":
			c.cmdBusy(args)

		case "lock":
			c.sim.SetUnsupported(true)
			fmt.Fprintln(c.rl.Stdout(), "Signer app locked")

		case "unlock":
			c.sim.SetUnsupported(false)
			fmt.Fprintln(c.rl.Stdout(), "Signer app unlocked")

		case "reject":
			c.sim.RejectNextSign()
			fmt.Fprintln(c.rl.Stdout(), "Next signing request will be rejected")

		case "stall":
			c.cmdStall(args)

		case "failopens":
			c.cmdFailOpens(args)

		case "counters":
			c.cmdCounters()

		case "quit", "exit", "q":
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return

		default:
			fmt.Fprintf(c.rl.Stdout(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.rl.Stdout(), `
LedgerLink Commands:
  Session:
    connect [n|path]   - Connect to account n (default 1) or a derivation path
    disconnect         - Tear the session down
    sign <text|0xhex>  - Sign a payload with the connected account
    status             - Show manager state and session details

  Device Faults:
    unplug / replug    - Pull the device / plug it back in
    busy on|off        - Make the device answer busy
    lock / unlock      - Lock or unlock the signer app
    reject             - Reject the next signing request
    stall on|off       - Stall liveness probes (trips the monitor)
    failopens <n>      - Fail the next n channel opens
    counters           - Show simulator counters

  General:
    help               - Show this help
    quit               - Exit`)
}

// cmdConnect handles the connect command. The attempt retries until
// the device answers or the retry budget runs out, so it can block
// for a while when the device is unplugged.
func (c *Console) cmdConnect(ctx context.Context, args []string) {
	target := session.Account(1)
	if len(args) > 0 {
		if n, err := strconv.Atoi(args[0]); err == nil {
			target = session.Account(n)
		} else {
			target = session.AtPath(args[0])
		}
	}

	fmt.Fprintf(c.rl.Stdout(), "Connecting to %s (retrying until the device answers)...\n", target)

	info, err := c.mgr.Connect(ctx, target)
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Connect failed: %v\n", err)
		return
	}

	fmt.Fprintf(c.rl.Stdout(), "Connected: %s\n", info.Path)
	fmt.Fprintf(c.rl.Stdout(), "  Public key: %s\n", hex.EncodeToString(info.PublicKey))
	fmt.Fprintf(c.rl.Stdout(), "  App version: %s\n", info.Configuration.Version)
}

func (c *Console) cmdDisconnect() {
	if !c.mgr.IsConnected() {
		fmt.Fprintln(c.rl.Stdout(), "No session to disconnect")
		return
	}
	c.mgr.Disconnect()
	fmt.Fprintln(c.rl.Stdout(), "Disconnected")
}

// cmdSign handles the sign command. Arguments are signed as UTF-8
// text unless they form a single 0x-prefixed hex string.
func (c *Console) cmdSign(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: sign <text|0xhex>")
		fmt.Fprintln(c.rl.Stdout(), "  Example: sign hello world")
		fmt.Fprintln(c.rl.Stdout(), "  Example: sign 0xdeadbeef")
		return
	}

	var base []byte
	if len(args) == 1 && strings.HasPrefix(args[0], "0x") {
		decoded, err := hex.DecodeString(strings.TrimPrefix(args[0], "0x"))
		if err != nil {
			fmt.Fprintf(c.rl.Stdout(), "Invalid hex payload: %v\n", err)
			return
		}
		base = decoded
	} else {
		base = []byte(strings.Join(args, " "))
	}

	payload := &txn.Payload{Base: base}
	if err := c.mgr.Sign(ctx, payload); err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Sign failed: %v\n", err)
		return
	}

	for _, sig := range payload.Signatures {
		fmt.Fprintf(c.rl.Stdout(), "Signature (hint %s):\n", hex.EncodeToString(sig.Hint[:]))
		fmt.Fprintf(c.rl.Stdout(), "  %s\n", hex.EncodeToString(sig.Signature))
	}
}

func (c *Console) cmdStatus() {
	fmt.Fprintf(c.rl.Stdout(), "State: %s\n", c.mgr.State())

	info, ok := c.mgr.Session()
	if !ok {
		return
	}

	fmt.Fprintf(c.rl.Stdout(), "Session:\n")
	fmt.Fprintf(c.rl.Stdout(), "  ID:           %s\n", info.ID)
	fmt.Fprintf(c.rl.Stdout(), "  Path:         %s\n", info.Path)
	fmt.Fprintf(c.rl.Stdout(), "  Public key:   %s\n", hex.EncodeToString(info.PublicKey))
	fmt.Fprintf(c.rl.Stdout(), "  App version:  %s\n", info.Configuration.Version)
	fmt.Fprintf(c.rl.Stdout(), "  Multi-ops:    %v\n", info.Configuration.MultiOpsEnabled)
	fmt.Fprintf(c.rl.Stdout(), "  Hash signing: %v\n", info.Configuration.HashSigningEnabled)
	fmt.Fprintf(c.rl.Stdout(), "  Connected:    %s (%s ago)\n",
		info.ConnectedAt.Format(time.RFC3339),
		time.Since(info.ConnectedAt).Round(time.Second))
}

func (c *Console) cmdBusy(args []string) {
	on, err := parseOnOff(args)
	if err != nil {
		fmt.Fprintln(c.rl.Stdout(), "Usage: busy on|off")
		return
	}
	c.sim.SetBusy(on)
	if on {
		fmt.Fprintln(c.rl.Stdout(), "Device now answers busy")
	} else {
		fmt.Fprintln(c.rl.Stdout(), "Device no longer busy")
	}
}

func (c *Console) cmdStall(args []string) {
	on, err := parseOnOff(args)
	if err != nil {
		fmt.Fprintln(c.rl.Stdout(), "Usage: stall on|off")
		return
	}
	c.sim.StallConfiguration(on)
	if on {
		fmt.Fprintln(c.rl.Stdout(), "Configuration fetches now stall (liveness will trip)")
	} else {
		fmt.Fprintln(c.rl.Stdout(), "Configuration fetches answer again")
	}
}

func (c *Console) cmdFailOpens(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: failopens <n>")
		return
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 0 {
		fmt.Fprintf(c.rl.Stdout(), "Invalid count: %s\n", args[0])
		return
	}
	c.sim.FailOpens(n)
	fmt.Fprintf(c.rl.Stdout(), "Next %d channel opens will fail\n", n)
}

func (c *Console) cmdCounters() {
	fmt.Fprintf(c.rl.Stdout(), "Opens:          %d\n", c.sim.Opens())
	fmt.Fprintf(c.rl.Stdout(), "Closes:         %d\n", c.sim.Closes())
	fmt.Fprintf(c.rl.Stdout(), "Signs:          %d\n", c.sim.Signs())
	fmt.Fprintf(c.rl.Stdout(), "Config fetches: %d\n", c.sim.ConfigurationFetches())
	fmt.Fprintf(c.rl.Stdout(), "Live channels:  %d\n", c.sim.LiveChannels())
}

// watchEvents prints session events without disturbing the prompt.
func (c *Console) watchEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.events.C:
			if !ok {
				return
			}
			switch ev.Type {
			case session.EventConnected:
				fmt.Fprintf(c.rl.Stdout(), "\n[EVENT] Connected: %s (key %s)\n", ev.Path, shortKey(ev.PublicKey))
			case session.EventDisconnected:
				fmt.Fprintf(c.rl.Stdout(), "\n[EVENT] Disconnected: %s (%s)\n", ev.Path, ev.Reason)
			}
			c.rl.Refresh()
		}
	}
}

func parseOnOff(args []string) (bool, error) {
	if len(args) < 1 {
		return false, fmt.Errorf("missing on|off")
	}
	switch strings.ToLower(args[0]) {
	case "on":
		return true, nil
	case "off":
		return false, nil
	default:
		return false, fmt.Errorf("expected on or off, got %s", args[0])
	}
}

func shortKey(key []byte) string {
	if len(key) < 8 {
		return hex.EncodeToString(key)
	}
	return hex.EncodeToString(key[:4]) + ".." + hex.EncodeToString(key[len(key)-4:])
}
