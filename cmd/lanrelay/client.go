package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"lanrelay/internal/core/domain"
	"lanrelay/pkg/client"
	"lanrelay/pkg/protocol"
)

var (
	flagControlAddr string
	flagMediaAddr   string
	flagFileAddr    string
	flagName        string
	flagTarget      string
	flagOutDir      string
	flagMediaType   string
	flagCount       int
	flagInterval    time.Duration
	flagTimeout     time.Duration
)

var clientCmd = &cobra.Command{
	Use:     "client",
	Aliases: []string{"c"},
	Short:   "Talk to a running relay",
}

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Join and chat",
	Long: `Join the relay and chat with the other participants.

With a message argument the message is sent and the session leaves. Without
one, lines read from stdin are sent as chat. Lines starting with a slash are
commands:

  /video on|off, /audio on|off, /screen on|off
  /send <path> [target]
  /quit

Examples:
  lanrelay client chat --name alice
  lanrelay client chat --name alice "lunch in five"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		c, err := join(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		if len(args) > 0 {
			if err := c.Chat(strings.Join(args, " ")); err != nil {
				return err
			}
			return leave(c)
		}

		disconnected := make(chan struct{})
		go func() {
			defer close(disconnected)
			printMessages(c)
		}()
		return chatLoop(ctx, c, os.Stdin, disconnected)
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload <path>",
	Short: "Upload a file and announce it",
	Long: `Upload a file to the relay and announce it with FILE_META.

Examples:
  lanrelay client upload --name alice notes.pdf
  lanrelay client upload --name alice --to bob notes.pdf`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), flagTimeout)
		defer cancel()

		c, err := join(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		meta, err := sendFile(ctx, c, args[0], flagTarget)
		if err != nil {
			return err
		}
		renderFiles(os.Stdout, []fileRow{{Owner: string(c.ID()), Filename: meta.Filename, Size: meta.Size, Target: meta.Target}})
		return leave(c)
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download <owner-id> <filename>",
	Short: "Download a file another participant uploaded",
	Long: `Download a stored file. The owner is the session id the uploader had when
the file was announced; files stay available after the owner leaves.

Examples:
  lanrelay client download 3f0c2a1e-... notes.pdf --out ~/Downloads`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), flagTimeout)
		defer cancel()

		dst, err := client.DownloadFile(ctx, flagFileAddr, domain.SessionID(args[0]), args[1], flagOutDir)
		if err != nil {
			if errors.Is(err, client.ErrFileNotFound) {
				return fmt.Errorf("%s has no file named %q", args[0], args[1])
			}
			return err
		}
		fmt.Println("saved", dst)
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Join and print the roster whenever it changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		c, err := join(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		go func() {
			<-ctx.Done()
			_ = leave(c)
		}()
		printMessages(c)
		if err := c.Err(); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}

var mediaCmd = &cobra.Command{
	Use:   "media",
	Short: "Send test media packets and count what comes back",
	Long: `Send synthetic media packets through the relay. Packets other participants
relay back to this client's media address are counted.

Examples:
  lanrelay client media --name alice --type audio --count 100`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		t, err := parseMediaType(flagMediaType)
		if err != nil {
			return err
		}
		c, err := join(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		sent, received, err := pumpMedia(ctx, c, t)
		fmt.Printf("sent %d %s packets, received %d\n", sent, t, received)
		if err != nil {
			return err
		}
		return leave(c)
	},
}

func join(ctx context.Context) (*client.Client, error) {
	if flagName == "" {
		return nil, errors.New("--name is required")
	}
	c, err := client.Dial(ctx, flagControlAddr, flagName)
	if err != nil {
		return nil, err
	}
	fmt.Printf("joined as %s (%s)\n", c.Name(), c.ID())
	return c, nil
}

func leave(c *client.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.Leave(ctx)
}

func sendFile(ctx context.Context, c *client.Client, path, target string) (domain.FileMeta, error) {
	meta, err := client.UploadFile(ctx, flagFileAddr, c.ID(), path)
	if err != nil {
		return meta, fmt.Errorf("upload %s: %w", path, err)
	}
	meta.Target = target
	if meta.Target == "" {
		meta.Target = domain.TargetEveryone
	}
	if err := c.SendFileMeta(meta); err != nil {
		return meta, err
	}
	return meta, nil
}

func chatLoop(ctx context.Context, c *client.Client, in io.Reader, disconnected <-chan struct{}) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return leave(c)
		case <-disconnected:
			if err := c.Err(); err != nil {
				return fmt.Errorf("disconnected: %w", err)
			}
			return nil
		case line, ok := <-lines:
			if !ok {
				return leave(c)
			}
			quit, err := handleLine(ctx, c, line)
			if err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
			}
			if quit {
				return leave(c)
			}
		}
	}
}

func handleLine(ctx context.Context, c *client.Client, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		return false, c.Chat(line)
	}

	fields := strings.Fields(line[1:])
	if len(fields) == 0 {
		return false, errors.New("empty command")
	}
	switch fields[0] {
	case "quit", "exit":
		return true, nil
	case "video", "audio", "screen":
		if len(fields) != 2 || (fields[1] != "on" && fields[1] != "off") {
			return false, fmt.Errorf("usage: /%s on|off", fields[0])
		}
		return false, c.SetFlag(domain.Flag(strings.ToUpper(fields[0])), fields[1] == "on")
	case "send":
		if len(fields) < 2 {
			return false, errors.New("usage: /send <path> [target]")
		}
		target := ""
		if len(fields) > 2 {
			target = fields[2]
		}
		uctx, cancel := context.WithTimeout(ctx, flagTimeout)
		defer cancel()
		meta, err := sendFile(uctx, c, fields[1], target)
		if err == nil {
			fmt.Printf("announced %s (%d bytes)\n", meta.Filename, meta.Size)
		}
		return false, err
	}
	return false, fmt.Errorf("unknown command /%s", fields[0])
}

func printMessages(c *client.Client) {
	for msg := range c.Messages() {
		switch msg.Kind {
		case protocol.MsgUsers:
			renderParticipants(os.Stdout, msg.Users, c.ID())
		case protocol.MsgStatus:
			p := msg.Participant
			fmt.Printf("* %s video=%t audio=%t screen=%t\n", p.Name, p.Video, p.Audio, p.Screen)
		case protocol.MsgChat:
			fmt.Printf("<%s> %s\n", msg.Name, msg.Text)
		case protocol.MsgFileMeta:
			o := msg.Offer
			fmt.Printf("* %s offers %s (%d bytes): lanrelay client download %s %q\n", o.FromName, o.Filename, o.Size, o.From, o.Filename)
		case protocol.MsgError:
			fmt.Fprintf(os.Stderr, "server error %s: %s\n", msg.ErrorCode, msg.ErrorText)
		}
	}
}

func parseMediaType(s string) (domain.MediaType, error) {
	for _, t := range []domain.MediaType{domain.MediaVideo, domain.MediaAudio, domain.MediaScreen} {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown media type %q (want video, audio or screen)", s)
}

func pumpMedia(ctx context.Context, c *client.Client, t domain.MediaType) (sent, received int, err error) {
	m, err := client.NewMediaSender(flagMediaAddr, string(c.ID()))
	if err != nil {
		return 0, 0, err
	}
	defer m.Close()

	done := make(chan int, 1)
	rctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		n := 0
		buf := make([]byte, 64<<10)
		for {
			deadline, dcancel := context.WithTimeout(rctx, flagInterval+time.Second)
			_, rerr := m.Receive(deadline, buf)
			dcancel()
			if rerr != nil && rctx.Err() != nil {
				done <- n
				return
			}
			if rerr == nil {
				n++
			}
		}
	}()

	payload := make([]byte, 160)
	ticker := time.NewTicker(flagInterval)
	defer ticker.Stop()
	for sent < flagCount {
		if err = m.Send(t, payload); err != nil {
			break
		}
		sent++
		select {
		case <-ctx.Done():
			cancel()
			return sent, <-done, nil
		case <-ticker.C:
		}
	}

	// Give in-flight packets from other participants a moment to land.
	time.Sleep(flagInterval)
	cancel()
	m.Close()
	return sent, <-done, err
}

func init() {
	rootCmd.AddCommand(clientCmd)
	clientCmd.AddCommand(chatCmd, uploadCmd, downloadCmd, watchCmd, mediaCmd)

	pf := clientCmd.PersistentFlags()
	pf.StringVar(&flagControlAddr, "control", "127.0.0.1:9000", "Control channel address")
	pf.StringVar(&flagMediaAddr, "media", "127.0.0.1:9001", "Media relay address")
	pf.StringVar(&flagFileAddr, "files", "127.0.0.1:9002", "File transfer address")
	pf.StringVarP(&flagName, "name", "n", "", "Display name to register with")
	pf.DurationVar(&flagTimeout, "timeout", 10*time.Minute, "Timeout for uploads and downloads")

	uploadCmd.Flags().StringVarP(&flagTarget, "to", "t", "", "Recipient session id or name; everyone when empty")
	downloadCmd.Flags().StringVarP(&flagOutDir, "out", "o", ".", "Directory to save into")
	mediaCmd.Flags().StringVar(&flagMediaType, "type", "audio", "Media type: video, audio or screen")
	mediaCmd.Flags().IntVar(&flagCount, "count", 50, "Number of packets to send")
	mediaCmd.Flags().DurationVar(&flagInterval, "interval", 20*time.Millisecond, "Delay between packets")
}
