package main

import (
	"cmp"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/matheus3301/gram/internal/api"
	"github.com/matheus3301/gram/internal/client"
	"github.com/matheus3301/gram/internal/config"
	"github.com/matheus3301/gram/internal/logging"
	"github.com/matheus3301/gram/internal/notify"
	"github.com/matheus3301/gram/internal/session"
	"github.com/matheus3301/gram/internal/store"
	intsync "github.com/matheus3301/gram/internal/sync"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	userFlag := flag.String("user", os.Getenv("GRAM_USER"), "local user id (default $GRAM_USER)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	verboseFlag := flag.Bool("v", false, "verbose logging")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fail(err)
	}
	cfg, err := config.Resolve(session.ConfigPath())
	if err != nil {
		fail(err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	level := "warn"
	if *verboseFlag {
		level = "debug"
	}
	logger, err := logging.NewCLI(level)
	if err != nil {
		fail(err)
	}
	defer func() { _ = logger.Sync() }()

	c, err := api.Dial(session.SocketPath(sessionName), logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for session %q: %v\n", sessionName, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	cli := &cli{api: c, cfg: cfg, user: *userFlag, json: *jsonFlag, logger: logger}

	if args[0] == "watch" {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		cli.watch(ctx)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "status":
		cli.status(ctx)
	case "last":
		cli.last(ctx)
	case "open":
		need(args, 2, "gramctl open <key>")
		cli.open(ctx, args[1])
	case "send":
		need(args, 3, "gramctl send <key> <text>")
		cli.send(ctx, args[1], strings.Join(args[2:], " "))
	case "resolve":
		cli.resolve(ctx, args[1:])
	case "seed":
		cli.seed(ctx, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: gramctl [--session <name>] [--user <id>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                          Show daemon health")
	fmt.Fprintln(os.Stderr, "  last                            Last message of every conversation")
	fmt.Fprintln(os.Stderr, "  open <key>                      Show a conversation (user id or group id)")
	fmt.Fprintln(os.Stderr, "  send <key> <text>               Send a text message")
	fmt.Fprintln(os.Stderr, "  watch                           Follow live messages")
	fmt.Fprintln(os.Stderr, "  resolve private <a> <b>         Look up a private conversation")
	fmt.Fprintln(os.Stderr, "  resolve group <group>           Look up a group conversation")
	fmt.Fprintln(os.Stderr, "  seed user <id> <name> [avatar]  Create or update a user")
	fmt.Fprintln(os.Stderr, "  seed contact <user> <contact>   Add a contact")
	fmt.Fprintln(os.Stderr, "  seed group <group> <members...> Create a group conversation")
}

type cli struct {
	api    *api.Client
	cfg    *config.Config
	user   string
	json   bool
	logger *zap.Logger
}

func (c *cli) session(notifier notify.Notifier) *client.Session {
	if c.user == "" {
		fail(fmt.Errorf("--user or GRAM_USER is required"))
	}
	if err := session.ValidateUserID(c.user); err != nil {
		fail(err)
	}
	s, err := client.New(c.user, c.api, c.api, client.Options{
		FetchLimit:         c.cfg.FetchLimit,
		PreviewLength:      c.cfg.PreviewLength,
		ResubscribeBackoff: c.cfg.ResubscribeBackoff.Std(),
		Notifier:           notifier,
	}, c.logger)
	if err != nil {
		fail(err)
	}
	return s
}

func (c *cli) status(ctx context.Context) {
	state, err := c.api.Health(ctx)
	if err != nil {
		fail(err)
	}
	if c.json {
		outputJSON(map[string]string{"status": state})
		return
	}
	fmt.Printf("Daemon: %s\n", state)
}

func (c *cli) last(ctx context.Context) {
	s := c.session(nil)
	defer s.Close()
	sums, err := s.GetLastMessages(ctx)
	if err != nil {
		fail(err)
	}
	if c.json {
		outputJSON(sums)
		return
	}
	if len(sums) == 0 {
		fmt.Println("No conversations.")
		return
	}
	keys := lo.Keys(sums)
	slices.SortFunc(keys, func(a, b string) int {
		return cmp.Compare(sums[b].CreatedAt, sums[a].CreatedAt)
	})
	for _, k := range keys {
		sum := sums[k]
		fmt.Printf("%-20s %s  %s\n", k, stamp(sum.CreatedAt), summaryText(sum))
	}
}

func (c *cli) open(ctx context.Context, key string) {
	s := c.session(nil)
	defer s.Close()
	msgs, err := s.SwitchConversation(ctx, key)
	if err != nil {
		fail(err)
	}
	if c.json {
		outputJSON(msgs)
		return
	}
	for _, m := range msgs {
		printMessage(m)
	}
}

func (c *cli) send(ctx context.Context, key, text string) {
	s := c.session(nil)
	defer s.Close()
	msg, err := s.SendMessage(ctx, key, text, store.KindText, nil)
	if err != nil {
		fail(err)
	}
	if c.json {
		outputJSON(msg)
		return
	}
	fmt.Printf("Sent #%d to %s\n", msg.ID, key)
}

func (c *cli) watch(ctx context.Context) {
	s := c.session(notify.Func(func(n notify.Notification) {
		fmt.Printf("** %s: %s\n", n.Title, n.Body)
	}))
	s.OnNewMessage(func(u intsync.Update) {
		if c.json {
			outputJSON(u)
			return
		}
		fmt.Printf("[%s] unread=%d ", u.Key, u.Unread)
		printMessage(u.Message)
	})
	if err := s.Start(ctx); err != nil {
		fail(err)
	}
	defer s.Close()
	if _, err := s.GetLastMessages(ctx); err != nil {
		c.logger.Warn("initial load failed", zap.Error(err))
	}
	fmt.Fprintf(os.Stderr, "watching as %s, ctrl-c to stop\n", c.user)
	<-ctx.Done()
}

func (c *cli) resolve(ctx context.Context, args []string) {
	var (
		id    string
		found bool
		err   error
	)
	switch {
	case len(args) == 3 && args[0] == "private":
		id, found, err = c.api.ResolvePrivate(ctx, args[1], args[2])
	case len(args) == 2 && args[0] == "group":
		id, found, err = c.api.ResolveGroup(ctx, args[1])
	default:
		fmt.Fprintln(os.Stderr, "usage: gramctl resolve private <a> <b> | resolve group <group>")
		os.Exit(1)
	}
	if err != nil {
		fail(err)
	}
	if c.json {
		outputJSON(api.ResolveResponse{ConversationID: id, Found: found})
		return
	}
	if !found {
		fmt.Println("Not found.")
		return
	}
	fmt.Println(id)
}

func (c *cli) seed(ctx context.Context, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: gramctl seed <user|contact|group> ...")
		os.Exit(1)
	}
	switch args[0] {
	case "user":
		need(args, 3, "gramctl seed user <id> <name> [avatar]")
		u := &store.User{ID: args[1], Name: args[2], Login: args[1]}
		if len(args) > 3 {
			u.Avatar = args[3]
		}
		if err := c.api.UpsertUser(ctx, u); err != nil {
			fail(err)
		}
		fmt.Printf("User %s saved\n", u.ID)
	case "contact":
		need(args, 3, "gramctl seed contact <user> <contact>")
		if err := c.api.AddContact(ctx, args[1], args[2]); err != nil {
			fail(err)
		}
		fmt.Printf("Contact %s added to %s\n", args[2], args[1])
	case "group":
		need(args, 3, "gramctl seed group <group> <members...>")
		id, err := c.api.CreateGroup(ctx, args[1], args[2:])
		if err != nil {
			fail(err)
		}
		fmt.Printf("Group %s -> %s\n", args[1], id)
	default:
		fmt.Fprintf(os.Stderr, "unknown seed subcommand: %s\n", args[0])
		os.Exit(1)
	}
}

func printMessage(m store.Message) {
	sender := m.SenderName
	if sender == "" {
		sender = m.SenderID
	}
	fmt.Printf("%s %-12s %s\n", stamp(m.CreatedAt), sender, summaryText(m.Summary()))
}

func summaryText(s store.Summary) string {
	if s.Kind != store.KindText && s.Text == "" {
		return "[" + string(s.Kind) + "]"
	}
	return s.Text
}

func stamp(ms int64) string {
	return time.UnixMilli(ms).Format("2006-01-02 15:04")
}

func need(args []string, n int, usage string) {
	if len(args) < n {
		fmt.Fprintln(os.Stderr, "usage: "+usage)
		os.Exit(1)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
