package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the chatsync client and dev server.
type Config struct {
	// SocketURL is the websocket endpoint of the chat server.
	SocketURL string
	// APIURL is the base URL of the REST history endpoint.
	APIURL string
	// TokenFile is the path of the file holding the current credential.
	// The connection manager polls it; clearing the file forces a disconnect.
	TokenFile string
	// ListenAddr is the bind address used by `chatsync serve`.
	ListenAddr string
	// LogFormat selects the slog handler ("text" or "json").
	LogFormat string
}

// New loads configuration from the environment, with defaults pointing at a
// locally running dev server.
func New() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	cfg := &Config{
		SocketURL:  getenv("CHATSYNC_SOCKET_URL", "ws://localhost:5000/ws"),
		APIURL:     getenv("CHATSYNC_API_URL", "http://localhost:5000"),
		TokenFile:  getenv("CHATSYNC_TOKEN_FILE", ".chatsync-token"),
		ListenAddr: getenv("CHATSYNC_LISTEN_ADDR", ":5000"),
		LogFormat:  getenv("LOG_FORMAT", "text"),
	}

	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
