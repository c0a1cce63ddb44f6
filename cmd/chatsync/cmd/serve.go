package cmd

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/chatsync/chatsync/internal/chat"
	"github.com/chatsync/chatsync/internal/devserver"
)

var (
	serveToken string
	serveSeed  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the in-memory dev chat server",
	RunE: func(cmd *cobra.Command, args []string) error {
		var opts []devserver.Option
		if serveToken != "" {
			opts = append(opts, devserver.WithToken(serveToken))
		}

		srv := devserver.New(opts...)
		if serveSeed {
			seedDemoRooms(srv)
		}
		return srv.Start(cfg.ListenAddr)
	},
}

// seedDemoRooms fills a couple of rooms with history so pagination has
// something to page through.
func seedDemoRooms(srv *devserver.Server) {
	base := time.Now().UTC().Add(-time.Hour)
	for _, roomID := range []string{"general", "random"} {
		msgs := make([]chat.Message, 0, 50)
		for i := 0; i < 50; i++ {
			msgs = append(msgs, chat.Message{
				ID:        uuid.NewString(),
				RoomID:    roomID,
				SenderID:  fmt.Sprintf("seed-user-%d", i%3),
				Text:      fmt.Sprintf("message %d in %s", i, roomID),
				CreatedAt: base.Add(time.Duration(i) * time.Minute),
			})
		}
		srv.Store().Seed(roomID, msgs)
	}
}

func init() {
	serveCmd.Flags().StringVar(&serveToken, "token", "", "require this bearer token on every request")
	serveCmd.Flags().BoolVar(&serveSeed, "seed", true, "seed demo rooms with message history")
	rootCmd.AddCommand(serveCmd)
}
