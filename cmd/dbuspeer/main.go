// Command dbuspeer is a small CLI over the dbuspeer connection layer:
// enough to authenticate against a Unix domain socket, issue a method
// call, and watch raw traffic go by, without any of the interface
// generation or object dispatch machinery a full D-Bus client usually
// carries.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/kr/pretty"

	dbus "github.com/cornelk/dbuspeer"
)

var globalArgs struct {
	Address string `flag:"address,Path to the Unix domain socket to connect to"`
}

// dial connects to a message bus: the handshake is followed by the
// implicit Hello every bus connection needs before anything else will
// work, per [dbus.NewClient].
func dial() (*dbus.Conn, error) {
	if globalArgs.Address == "" {
		return nil, fmt.Errorf("--address is required")
	}
	conn, err := dbus.NewClient(globalArgs.Address, os.Getuid(), true)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", globalArgs.Address, err)
	}
	return conn, nil
}

func main() {
	root := &command.C{
		Name:     "dbuspeer",
		Usage:    "command args...",
		SetFlags: command.Flags(flax.MustBind, &globalArgs),
		Commands: []*command.C{
			{
				Name:  "hello",
				Usage: "hello",
				Help:  "Perform the bus Hello call and print the assigned unique name.",
				Run:   command.Adapt(runHello),
			},
			{
				Name:  "call",
				Usage: "call destination path interface member [arg]",
				Help: `Send a METHOD_CALL and print the reply.

arg, if given, is sent as a single string body argument; richer
bodies are out of scope for this CLI.`,
				Run: command.Adapt(runCall),
			},
			{
				Name:  "ping",
				Usage: "ping destination",
				Help:  "Call org.freedesktop.DBus.Peer.Ping on destination.",
				Run:   command.Adapt(runPing),
			},
			{
				Name:  "monitor",
				Usage: "monitor",
				Help:  "Print every message the connection receives until interrupted.",
				Run:   command.Adapt(runMonitor),
			},
			command.HelpCommand(nil),
			command.VersionCommand(),
		},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	env := root.NewEnv(nil).SetContext(ctx)
	command.RunOrFail(env, os.Args[1:])
}

func runHello(env *command.Env) error {
	conn, err := dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	// dial already sent the bus Hello; print the unique name it assigned.
	fmt.Println(conn.UniqueName())
	return nil
}

func runCall(env *command.Env, destination, path, iface, member string, arg ...string) error {
	conn, err := dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	m := &dbus.Message{
		Path:        dbus.ObjectPath(path),
		Interface:   iface,
		Member:      member,
		Destination: destination,
	}
	if len(arg) > 0 {
		body, fds, sig, err := dbus.BasicCodec{}.EncodeBody(conn.ByteOrder(), arg[0])
		if err != nil {
			return fmt.Errorf("encoding argument: %w", err)
		}
		m.Body, m.Files, m.Signature = body, fds, sig
	}

	reply, err := conn.CallMethod(m)
	if err != nil {
		return fmt.Errorf("calling %s.%s on %s: %w", iface, member, destination, err)
	}
	fmt.Printf("%# v\n", pretty.Formatter(reply))
	return nil
}

func runPing(env *command.Env, destination string) error {
	conn, err := dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.CallMethod(&dbus.Message{
		Path:        "/",
		Interface:   "org.freedesktop.DBus.Peer",
		Member:      "Ping",
		Destination: destination,
	})
	if err != nil {
		return fmt.Errorf("pinging %s: %w", destination, err)
	}
	fmt.Println("ok")
	return nil
}

func runMonitor(env *command.Env) error {
	conn, err := dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	for {
		m, err := conn.ReceiveMessage()
		if err != nil {
			return fmt.Errorf("receiving message: %w", err)
		}
		fmt.Printf("%s %# v\n", m.Type, pretty.Formatter(m))
	}
}
