package cmd

import (
	"bufio"
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/chatsync/chatsync/internal/chat"
	"github.com/chatsync/chatsync/internal/connection"
	"github.com/chatsync/chatsync/internal/credentials"
	"github.com/chatsync/chatsync/internal/history"
	"github.com/chatsync/chatsync/internal/presence"
	"github.com/chatsync/chatsync/internal/pubsub"
	"github.com/chatsync/chatsync/internal/reconcile"
	"github.com/chatsync/chatsync/internal/room"
	"github.com/chatsync/chatsync/internal/session"
	"github.com/chatsync/chatsync/internal/topics"
	"github.com/chatsync/chatsync/internal/transport"
)

var (
	chatRoom   string
	chatSender string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open an interactive chat session",
	Long: `Connects to the chat server using the credential from the token
file, joins a room, and relays stdin lines as messages. Commands:

  /room <id>   switch to another room
  /older       load an older page of history
  /who         list online and typing users
  /quit        exit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if chatSender == "" {
			return chat.ErrUnknownSender
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		bus := pubsub.NewWatermillBus()
		defer bus.Close()

		source := credentials.NewFileSource(afero.NewOsFs(), cfg.TokenFile)
		dialer := &transport.WebsocketDialer{
			URL: cfg.SocketURL + "?user=" + url.QueryEscape(chatSender),
		}
		manager := connection.NewManager(dialer, bus, source)
		rooms := room.NewSession(manager)
		tracker := presence.NewTracker()
		fetcher := history.NewClient(cfg.APIURL, source, nil)
		rec := reconcile.New(fetcher)

		sess := session.New(manager, rooms, tracker, rec, bus, chatSender)
		if err := sess.Start(ctx); err != nil {
			return err
		}
		defer sess.Close()

		// Print every live message as it arrives.
		err := bus.Subscribe(ctx, topics.MessageReceived, func(_ context.Context, msg pubsub.Message) error {
			var m chat.Message
			if err := (chat.Event{Name: chat.EventRoomMessage, Data: msg.Payload}).Decode(&m); err != nil {
				return nil
			}
			fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Format("15:04:05"), m.SenderID, m.Text)
			return nil
		})
		if err != nil {
			return err
		}

		go manager.Run(ctx)
		if chatRoom != "" {
			sess.SelectRoom(chatRoom)
		}

		return readInput(ctx, sess)
	},
}

func readInput(ctx context.Context, sess *session.Facade) error {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			return nil
		case line == "/older":
			if fetched, err := sess.LoadOlderMessages(ctx); err != nil {
				fmt.Println("error:", err)
			} else if !fetched {
				fmt.Println("no older messages")
			} else {
				for _, m := range sess.Messages() {
					fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Format("15:04:05"), m.SenderID, m.Text)
				}
			}
		case line == "/who":
			fmt.Println("online:", strings.Join(sess.OnlineUsers(), ", "))
			fmt.Println("typing:", strings.Join(sess.TypingUsers(), ", "))
		case strings.HasPrefix(line, "/room "):
			sess.SelectRoom(strings.TrimSpace(strings.TrimPrefix(line, "/room ")))
		default:
			sess.SetTypingState(ctx, line)
			if err := sess.SendMessage(ctx, line); err != nil {
				fmt.Println("error:", err)
			}
		}
	}
	return scanner.Err()
}

func init() {
	chatCmd.Flags().StringVar(&chatRoom, "room", "", "room to join on startup")
	chatCmd.Flags().StringVar(&chatSender, "sender", "", "local sender id (required)")
	rootCmd.AddCommand(chatCmd)
}
