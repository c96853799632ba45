// chatcli is a terminal client for exercising a conversation end to
// end against the devserver: open a match, send and edit messages,
// watch typing and presence update live.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/astromatch/chatkit/internal/chat"
	"github.com/astromatch/chatkit/internal/config"
	"github.com/astromatch/chatkit/internal/logger"
	"github.com/astromatch/chatkit/internal/model"
	"github.com/astromatch/chatkit/internal/protocol"
	"github.com/astromatch/chatkit/internal/session"
)

func main() {
	logger.SetPrefix("chatcli")
	userID := flag.String("user", "", "user id to connect as")
	server := flag.String("server", "", "devserver base URL (overrides config)")
	flag.Parse()

	if *userID == "" {
		fmt.Fprintln(os.Stderr, "usage: chatcli -user <id> [-server http://localhost:8080]")
		os.Exit(1)
	}

	cfg := config.Load()
	if *server != "" {
		cfg.Client.ServerURL = *server
		cfg.Client.SocketURL = config.DeriveSocketURL(*server)
	}

	// Dev scheme: the bearer token is the user id.
	sess := session.NewStatic(*userID, *userID)
	client := chat.NewClient(cfg.Client, sess)
	if err := client.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	defer client.Stop()

	ctx := context.Background()
	matches, err := client.Rest().FetchMatches(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fetch matches: %v\n", err)
		os.Exit(1)
	}
	if len(matches) == 0 {
		fmt.Println("no matches yet; seed via POST /api/dev/users and /api/dev/matches")
	}
	for _, m := range matches {
		client.TrackParticipant(m.UserID, model.Participant{
			ID:         m.UserID,
			Username:   m.Username,
			AvatarURL:  m.AvatarURL,
			IsOnline:   m.IsOnline,
			LastSeenAt: m.LastSeenAt,
		})
		fmt.Printf("match %s with %s (%s)\n", m.ConversationID, m.Username, m.UserID)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		client.Stop()
		os.Exit(0)
	}()

	repl(ctx, client, matches)
}

type matchInfo struct {
	counterpartID string
	username      string
}

func repl(ctx context.Context, client *chat.Client, matches []protocol.MatchEntry) {
	conversations := make(map[string]matchInfo, len(matches))
	for _, m := range matches {
		conversations[m.ConversationID] = matchInfo{counterpartID: m.UserID, username: m.Username}
	}

	var current string
	if len(matches) == 1 {
		current = matches[0].ConversationID
	}

	fmt.Println("commands: open <conv> | list | send <text> | image <path> | edit <id> <body> | del <id> | delme <id> | react <id> <emoji> | read | who | quit")
	sc := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !sc.Scan() {
			return
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		cmd, rest, _ := strings.Cut(line, " ")

		if current == "" && cmd != "open" && cmd != "quit" {
			fmt.Println("open a conversation first")
			continue
		}

		switch cmd {
		case "quit":
			return
		case "open":
			if _, ok := conversations[rest]; !ok {
				fmt.Println("unknown conversation")
				continue
			}
			if current != "" {
				client.CloseConversation(current)
			}
			current = rest
			if err := client.FetchHistory(ctx, current); err != nil {
				fmt.Printf("history: %v\n", err)
				continue
			}
			if err := client.Dispatcher().MarkRead(ctx, current); err != nil {
				fmt.Printf("mark read: %v\n", err)
			}
			printMessages(client, current)
		case "list":
			printMessages(client, current)
		case "send":
			client.InputChanged(current, "")
			id, err := client.Dispatcher().Send(ctx, current, chat.Content{Kind: model.KindText, Body: rest}, nil)
			if err != nil {
				fmt.Printf("send failed (id=%s): %v\n", id, err)
				continue
			}
			fmt.Printf("sent %s\n", id)
		case "image":
			f, err := os.Open(rest)
			if err != nil {
				fmt.Printf("open: %v\n", err)
				continue
			}
			ref, err := client.Rest().UploadMedia(ctx, filepath.Base(rest), f)
			f.Close()
			if err != nil {
				fmt.Printf("upload: %v\n", err)
				continue
			}
			id, err := client.Dispatcher().Send(ctx, current, chat.Content{Kind: model.KindImage, MediaRef: ref}, nil)
			if err != nil {
				fmt.Printf("send failed (id=%s): %v\n", id, err)
				continue
			}
			fmt.Printf("sent %s\n", id)
		case "edit":
			id, body, _ := strings.Cut(rest, " ")
			if err := client.Dispatcher().Edit(ctx, id, body); err != nil {
				fmt.Printf("edit: %v\n", err)
			}
		case "del":
			if err := client.Dispatcher().DeleteForEveryone(ctx, rest); err != nil {
				fmt.Printf("delete: %v\n", err)
			}
		case "delme":
			client.Dispatcher().DeleteForMe(rest)
		case "react":
			id, emoji, _ := strings.Cut(rest, " ")
			if err := client.Dispatcher().React(ctx, id, emoji); err != nil {
				fmt.Printf("react: %v\n", err)
			}
		case "read":
			if err := client.Dispatcher().MarkRead(ctx, current); err != nil {
				fmt.Printf("mark read: %v\n", err)
			}
		case "who":
			info := conversations[current]
			state := client.Presence(info.counterpartID)
			switch {
			case state.IsOnline:
				fmt.Printf("%s is online\n", info.username)
			case state.LastSeenAt != nil:
				fmt.Printf("%s last seen %s\n", info.username, chat.LastSeenLabel(time.Now(), *state.LastSeenAt))
			default:
				fmt.Printf("%s is offline\n", info.username)
			}
			if client.IsCounterpartTyping(current) {
				fmt.Printf("%s is typing...\n", info.username)
			}
		default:
			// Anything unrecognized is treated as draft input so
			// typing signals flow while composing.
			client.InputChanged(current, line)
			fmt.Println("unknown command (draft registered); use send <text>")
		}
	}
}

func printMessages(client *chat.Client, conversationID string) {
	for _, m := range client.Messages(conversationID) {
		role := "them"
		if m.SenderRole == model.RoleSelf {
			role = "me"
		}
		body := m.Body
		if m.Tombstoned() {
			body = "(deleted)"
		} else if m.Kind == model.KindImage {
			body = "(image " + m.MediaRef + ")"
		}
		flags := ""
		switch {
		case m.Failed:
			flags = " [failed]"
		case m.Pending:
			flags = " [sending]"
		case m.SenderRole == model.RoleSelf:
			flags = " [" + string(m.Delivery) + "]"
		}
		if m.EditedAt != nil {
			flags += " (edited)"
		}
		fmt.Printf("%s %s %s: %s%s  {%s}\n",
			m.SentAt.Local().Format("15:04"), role, "|", body, flags, m.ID)
	}
}
