// Package replication binds stores and collections to a transport channel.
// Local mutations are broadcast to every client of the channel and writable
// containers apply remote mutations without broadcasting them again.
package replication

import (
	"context"
	"fmt"
	"strings"

	"github.com/artpar/livesync/core/transport"
	"github.com/artpar/livesync/ports"
	"github.com/rs/zerolog"
)

// Options configure the channel binding of a synced store or collection.
type Options struct {
	// Channel overrides the channel name, which defaults to the lowercase full name.
	Channel string
	Host    string
	Port    int
	Path    string

	// Writable installs handlers that apply remote mutations.
	Writable bool

	// ItemIDs tags every collection item with an "_xqid" and replicates
	// changes made directly on items.
	ItemIDs bool
	IDs     ports.IDGenerator

	// Detached skips opening the listener. Connections are attached through
	// the socket's Handler or Accept.
	Detached bool

	Transport *transport.Registry

	// Logger is also given to the replicated store or collection.
	Logger zerolog.Logger
}

func openSocket(ctx context.Context, fullName string, opts Options) (*transport.Socket, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("%s: transport registry is required", fullName)
	}
	channel := opts.Channel
	if channel == "" {
		channel = strings.ToLower(fullName)
	}

	sock, err := transport.NewSocket(opts.Transport, transport.Options{
		Host:    opts.Host,
		Port:    opts.Port,
		Path:    opts.Path,
		Channel: channel,
		Logger:  opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	if !opts.Detached {
		if err := sock.Start(ctx); err != nil {
			return nil, err
		}
	}
	return sock, nil
}

// splitConn separates the trailing connection that the transport appends to
// every inbound event from the event arguments.
func splitConn(args []any) ([]any, *transport.Conn) {
	if n := len(args); n > 0 {
		if c, ok := args[n-1].(*transport.Conn); ok {
			return args[:n-1], c
		}
	}
	return args, nil
}

func arg(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return nil
}

func stringArg(args []any, i int) string {
	s, _ := arg(args, i).(string)
	return s
}
