// Command chatcli is a terminal client for the chat stream server.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/xuanyiying/ai-ace-job-sub001/client"
	"github.com/xuanyiying/ai-ace-job-sub001/config"
	"github.com/xuanyiying/ai-ace-job-sub001/domain"
	"github.com/xuanyiying/ai-ace-job-sub001/provider"
)

var (
	serverURL      string
	token          string
	conversationID string
)

func main() {
	root := &cobra.Command{
		Use:   "chatcli",
		Short: "Terminal client for the chat stream server",
	}
	root.PersistentFlags().StringVar(&serverURL, "server", "ws://localhost:8085/ws", "WebSocket server URL")
	root.PersistentFlags().StringVar(&token, "token", "", "bearer credential")

	chatCmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive streaming chat",
		RunE:  runChat,
	}
	chatCmd.Flags().StringVar(&conversationID, "conversation", "", "conversation id (generated when empty)")

	modelsCmd := &cobra.Command{
		Use:   "models",
		Short: "List available provider models",
		RunE:  runModels,
	}

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE:  runHealth,
	}

	root.AddCommand(chatCmd, modelsCmd, healthCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	if conversationID == "" {
		conversationID = "conv_" + uuid.New().String()[:8]
	}

	done := make(chan struct{}, 1)
	opts := client.Options{
		Token:         token,
		ReconnectMax:  5,
		ReconnectBase: time.Second,
		Handler: func(ev domain.StreamEvent) {
			switch ev.Type {
			case domain.EventTypeChunk:
				fmt.Print(ev.Content)
			case domain.EventTypeDone:
				fmt.Println()
				done <- struct{}{}
			case domain.EventTypeCancelled:
				fmt.Println("\n[cancelled]")
				done <- struct{}{}
			case domain.EventTypeError:
				fmt.Printf("\n[error] %s\n", ev.Content)
				done <- struct{}{}
			case domain.EventTypeSystem:
				fmt.Printf("[progress] %v\n", ev.Metadata)
			}
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	c, err := client.Dial(ctx, serverURL, opts)
	cancel()
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.JoinConversation(conversationID); err != nil {
		return err
	}
	fmt.Printf("Connected. Conversation: %s (type /quit to exit)\n", conversationID)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			return nil
		}

		if err := c.SendMessage(conversationID, line, nil); err != nil {
			log.Printf("Send failed: %v", err)
			continue
		}
		<-done
	}
}

func runHealth(cmd *cobra.Command, args []string) error {
	healthURL := strings.TrimSuffix(serverURL, "/ws") + "/health"
	healthURL = strings.Replace(healthURL, "ws://", "http://", 1)
	healthURL = strings.Replace(healthURL, "wss://", "https://", 1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s\n", resp.Status, strings.TrimSpace(string(body)))
	return nil
}

func runModels(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	backend := provider.NewBackend(cfg.ProviderName, cfg.ProviderBaseURL, cfg.ProviderAPIKey, cfg.ProviderTimeout)
	gateway := provider.NewGateway(backend)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	models, err := gateway.ListModels(ctx)
	if err != nil {
		return err
	}
	for _, m := range models {
		fmt.Println(m.ID)
	}
	return nil
}
