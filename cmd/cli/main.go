// Command cli is a test client for the note transport service: send,
// fetch, stream, and inspect notes from the command line.
package main

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/spf13/pflag"

	"github.com/0xMiden/miden-note-transport/internal/client"
	"github.com/0xMiden/miden-note-transport/internal/cryptographic/payload"
	"github.com/0xMiden/miden-note-transport/internal/model"
)

const usage = `usage: cli [--endpoint ADDR] [--timeout-ms N] COMMAND [flags]

commands:
  send     send a note (--tag, --memo or --header-hex, --details-hex,
           optional --key or --recipient-pub to seal details)
  fetch    fetch stored notes for a tag (--tag, optional --key/--priv)
  stream   follow a tag live, printing notes as they arrive
  watch    follow a tag live in a terminal view
  stats    print node statistics
  genkey   generate an AES key and an X25519 key pair
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	global := pflag.NewFlagSet("cli", pflag.ContinueOnError)
	endpoint := global.String("endpoint", "127.0.0.1:57292", "server address")
	timeoutMS := global.Int("timeout-ms", 5000, "request timeout in milliseconds")
	global.SetInterspersed(false)
	if err := global.Parse(args); err != nil {
		return err
	}
	rest := global.Args()
	if len(rest) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("missing command")
	}
	command, rest := rest[0], rest[1:]

	if command == "genkey" {
		return genKey()
	}

	c, err := client.Dial(*endpoint)
	if err != nil {
		return err
	}
	defer c.Close()

	timeout := time.Duration(*timeoutMS) * time.Millisecond
	switch command {
	case "send":
		return sendNote(c, timeout, rest)
	case "fetch":
		return fetchNotes(c, timeout, rest)
	case "stream":
		return streamNotes(c, rest, false)
	case "watch":
		return streamNotes(c, rest, true)
	case "stats":
		return showStats(c, timeout)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func sendNote(c *client.Client, timeout time.Duration, args []string) error {
	fs := pflag.NewFlagSet("send", pflag.ContinueOnError)
	tag := fs.Uint32("tag", 0, "routing tag")
	memo := fs.String("memo", "", "header payload appended after the tag prefix")
	headerHex := fs.String("header-hex", "", "full header (hex); overrides --tag/--memo")
	detailsHex := fs.String("details-hex", "", "details (hex)")
	keyHex := fs.String("key", "", "AES-256 key (hex) to seal details")
	recipientPub := fs.String("recipient-pub", "", "X25519 public key (hex) to hybrid-seal details")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var header []byte
	if *headerHex != "" {
		var err error
		header, err = hex.DecodeString(*headerHex)
		if err != nil {
			return fmt.Errorf("decode header: %w", err)
		}
	} else {
		header = make([]byte, model.TagSize, model.TagSize+len(*memo))
		binary.BigEndian.PutUint32(header, *tag)
		header = append(header, []byte(*memo)...)
	}

	details, err := hex.DecodeString(*detailsHex)
	if err != nil {
		return fmt.Errorf("decode details: %w", err)
	}

	switch {
	case *keyHex != "":
		key, err := hex.DecodeString(*keyHex)
		if err != nil {
			return fmt.Errorf("decode key: %w", err)
		}
		details, err = payload.Seal(key, details, header)
		if err != nil {
			return err
		}
	case *recipientPub != "":
		pub, err := decodeKey32(*recipientPub)
		if err != nil {
			return fmt.Errorf("decode recipient public key: %w", err)
		}
		details, err = payload.SealHybrid(pub, details, header)
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	id, err := c.SendNote(ctx, header, details)
	if err != nil {
		return err
	}
	fmt.Printf("sent note %s\n", id)
	return nil
}

func fetchNotes(c *client.Client, timeout time.Duration, args []string) error {
	fs := pflag.NewFlagSet("fetch", pflag.ContinueOnError)
	tag := fs.Uint32("tag", 0, "routing tag")
	keyHex := fs.String("key", "", "AES-256 key (hex) to open sealed details")
	privHex := fs.String("priv", "", "X25519 private key (hex) to open hybrid-sealed details")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	all, err := c.FetchAll(ctx, *tag)
	if err != nil {
		return err
	}

	for _, n := range all {
		fmt.Println(formatNote(n, *keyHex, *privHex))
	}
	fmt.Printf("%d note(s)\n", len(all))
	return nil
}

func streamNotes(c *client.Client, args []string, tui bool) error {
	fs := pflag.NewFlagSet("stream", pflag.ContinueOnError)
	tag := fs.Uint32("tag", 0, "routing tag")
	sinceMS := fs.Int64("since-ms", -1, "replay stored notes created at or after this timestamp (0 = all)")
	idleMS := fs.Int64("idle-ms", 0, "end the stream after this idle period (0 = never)")
	keyHex := fs.String("key", "", "AES-256 key (hex) to open sealed details")
	privHex := fs.String("priv", "", "X25519 private key (hex) to open hybrid-sealed details")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var since *model.Cursor
	if *sinceMS >= 0 {
		since = &model.Cursor{CreatedAt: *sinceMS}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, err := c.StreamNotes(ctx, *tag, since, time.Duration(*idleMS)*time.Millisecond)
	if err != nil {
		return err
	}

	if !tui {
		for {
			n, err := stream.Recv()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Println(formatNote(n, *keyHex, *privHex))
		}
	}

	app := tview.NewApplication()
	view := tview.NewTextView().
		SetDynamicColors(true).
		SetChangedFunc(func() { app.Draw() })
	view.SetBorder(true).SetTitle(fmt.Sprintf(" tag %d — q to quit ", *tag))
	view.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		if ev.Rune() == 'q' || ev.Key() == tcell.KeyEscape {
			app.Stop()
			return nil
		}
		return ev
	})

	go func() {
		defer app.Stop()
		for {
			n, err := stream.Recv()
			if err != nil {
				return
			}
			fmt.Fprintf(view, "%s\n", formatNote(n, *keyHex, *privHex))
		}
	}()
	return app.SetRoot(view, true).Run()
}

func showStats(c *client.Client, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s, err := c.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("total notes:          %d\n", s.TotalNotes)
	fmt.Printf("unique tags:          %d\n", s.UniqueTags)
	fmt.Printf("active subscriptions: %d\n", s.ActiveSubscriptions)
	fmt.Printf("overflow count:       %d\n", s.OverflowCount)
	fmt.Printf("ingest requests:      %d\n", s.IngestRequests)
	fmt.Printf("fetch requests:       %d\n", s.FetchRequests)
	fmt.Printf("notes last minute:    %d\n", s.NotesRecent)
	if s.LastSweepMS > 0 {
		fmt.Printf("last sweep:           %s (%d removed)\n",
			time.UnixMilli(s.LastSweepMS).Format(time.RFC3339), s.LastSweepCount)
	} else {
		fmt.Printf("last sweep:           never\n")
	}
	return nil
}

func genKey() error {
	aesKey := make([]byte, payload.KeySize)
	if _, err := rand.Read(aesKey); err != nil {
		return err
	}
	priv, pub, err := payload.NewKeyPair()
	if err != nil {
		return err
	}
	fmt.Printf("aes key:      %s\n", hex.EncodeToString(aesKey))
	fmt.Printf("x25519 priv:  %s\n", hex.EncodeToString(priv[:]))
	fmt.Printf("x25519 pub:   %s\n", hex.EncodeToString(pub[:]))
	return nil
}

func formatNote(n *model.Note, keyHex, privHex string) string {
	details := n.Details
	suffix := ""
	switch {
	case keyHex != "":
		key, err := hex.DecodeString(keyHex)
		if err == nil {
			if open, err := payload.Open(key, n.Details, n.Header); err == nil {
				details = open
				suffix = " (opened)"
			} else {
				suffix = " (sealed)"
			}
		}
	case privHex != "":
		priv, err := decodeKey32(privHex)
		if err == nil {
			if open, err := payload.OpenHybrid(priv, n.Details, n.Header); err == nil {
				details = open
				suffix = " (opened)"
			} else {
				suffix = " (sealed)"
			}
		}
	}
	return fmt.Sprintf("%s  tag=%d  created_at=%s  details=%s%s",
		n.ID, n.Tag, time.UnixMilli(n.CreatedAt).Format(time.RFC3339Nano),
		hex.EncodeToString(details), suffix)
}

func decodeKey32(s string) ([32]byte, error) {
	var key [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return key, err
	}
	if len(b) != 32 {
		return key, fmt.Errorf("got %d bytes, want 32", len(b))
	}
	copy(key[:], b)
	return key, nil
}
