// Command lancom-demo is a minimal worked example of the library: it
// starts a node, serves an echo request, subscribes to a topic, and
// publishes to it once a second. Adapted from
// original_source/examples/zerolancom_example.cpp, wired through
// cobra the way zeromq-gyre's cmd/ping and cmd/monitor wire through
// flag.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lancom-go/lancom"
)

func main() {
	var (
		name string
		ip   string
	)

	root := &cobra.Command{
		Use:   "lancom-demo",
		Short: "Run a demo lancom node that serves an echo service and publishes a topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(name, ip)
		},
	}
	root.Flags().StringVar(&name, "name", "demo-node", "name this node advertises")
	root.Flags().StringVar(&ip, "ip", "127.0.0.1", "address this node advertises")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(name, ip string) error {
	lancom.SetLevel(lancom.LevelInfo)

	node, err := lancom.Init(name, ip)
	if err != nil {
		return fmt.Errorf("init node: %w", err)
	}
	defer node.Stop()

	lancom.RegisterServiceHandler(node, "EchoService", func(req string) (string, error) {
		lancom.Logger().Info("service request received")
		return "Echo: " + req, nil
	})

	if err := lancom.RegisterTopicSubscriber(node, "TestTopic", func(msg string) {
		lancom.Logger().Infof("received message on subscribed topic: %s", msg)
	}); err != nil {
		return fmt.Errorf("register subscriber: %w", err)
	}

	publisher, err := lancom.NewPublisher[string](node, "TestTopic")
	if err != nil {
		return fmt.Errorf("new publisher: %w", err)
	}
	defer publisher.Close()

	if lancom.WaitForService(node, "EchoService", 2*time.Second, 50*time.Millisecond) {
		resp, err := lancom.Request[string, string](node, "EchoService", "Hello Service", time.Second)
		if err != nil {
			lancom.Logger().WithError(err).Warn("echo self-call failed")
		} else {
			lancom.Logger().Infof("echo self-call returned: %s", resp)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if err := publisher.Publish("Hello, lancom!"); err != nil {
			lancom.Logger().WithError(err).Warn("publish failed")
		} else {
			lancom.Logger().Info("published message to TestTopic")
		}
		node.Sleep(1 * time.Second)
	}
}
