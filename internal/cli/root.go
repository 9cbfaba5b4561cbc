package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// dispatchctl talks HTTP to a running daemon; the daemon owns the database
// and the hub, so the CLI never opens a second pool or a socket of its own.

func Main() {
	var addr string

	root := &cobra.Command{
		Use:   "dispatchctl",
		Short: "Dispatch demo CLI",
	}
	root.PersistentFlags().StringVar(&addr, "addr", "http://127.0.0.1:8080", "dispatchd base URL")

	root.AddCommand(publishCmd(&addr))
	root.AddCommand(offerCmd(&addr))
	root.AddCommand(withdrawCmd(&addr))
	root.AddCommand(statsCmd(&addr))
	root.AddCommand(exportCmd(&addr))

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func publishCmd(addr *string) *cobra.Command {
	var topic, action, payload string
	var roles, engineers, clients []string

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a widget event",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"topic":   topic,
				"action":  action,
				"payload": json.RawMessage(payload),
			}
			recipients := map[string]any{}
			if len(roles) > 0 {
				recipients["roles"] = roles
			}
			if len(engineers) > 0 {
				recipients["engineerIds"] = engineers
			}
			if len(clients) > 0 {
				recipients["clientIds"] = clients
			}
			if len(recipients) > 0 {
				body["recipients"] = recipients
			}
			return postJSON(*addr+"/demo/event", body)
		},
	}

	cmd.Flags().StringVar(&topic, "topic", "", "event topic")
	cmd.Flags().StringVar(&action, "action", "", "event action")
	cmd.Flags().StringVar(&payload, "payload", "{}", "event payload (JSON)")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "restrict to roles")
	cmd.Flags().StringSliceVar(&engineers, "engineer", nil, "restrict to engineer ids")
	cmd.Flags().StringSliceVar(&clients, "client", nil, "restrict to client ids")
	_ = cmd.MarkFlagRequired("topic")
	return cmd
}

func offerCmd(addr *string) *cobra.Command {
	var engineers []string
	var payload string

	cmd := &cobra.Command{
		Use:   "offer",
		Short: "Offer a task to a ranked list of engineers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return postJSON(*addr+"/demo/task/offer", map[string]any{
				"engineerIds": engineers,
				"payload":     json.RawMessage(payload),
			})
		},
	}
	cmd.Flags().StringSliceVar(&engineers, "engineer", nil, "engineer ids")
	cmd.Flags().StringVar(&payload, "payload", "{}", "task payload (JSON)")
	_ = cmd.MarkFlagRequired("engineer")
	return cmd
}

func withdrawCmd(addr *string) *cobra.Command {
	var engineers []string
	var payload string

	cmd := &cobra.Command{
		Use:   "withdraw",
		Short: "Withdraw a task offer from engineers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return postJSON(*addr+"/demo/task/withdraw", map[string]any{
				"engineerIds": engineers,
				"payload":     json.RawMessage(payload),
			})
		},
	}
	cmd.Flags().StringSliceVar(&engineers, "engineer", nil, "engineer ids")
	cmd.Flags().StringVar(&payload, "payload", "{}", "task payload (JSON)")
	_ = cmd.MarkFlagRequired("engineer")
	return cmd
}

func statsCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show hub connection stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := get(*addr + "/hub/stats")
			if err != nil {
				return err
			}
			_, _ = os.Stdout.Write(b)
			return nil
		},
	}
}

func exportCmd(addr *string) *cobra.Command {
	var format, outPath string
	var limit int

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export ingested analytics events",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := get(fmt.Sprintf("%s/export/events?format=%s&limit=%d", *addr, format, limit))
			if err != nil {
				return err
			}
			if outPath == "" || outPath == "-" {
				_, _ = os.Stdout.Write(b)
				return nil
			}
			return os.WriteFile(outPath, b, 0644)
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "export format: json|csv")
	cmd.Flags().StringVar(&outPath, "out", "-", "output path (or - for stdout)")
	cmd.Flags().IntVar(&limit, "limit", 10000, "max rows")
	return cmd
}

var httpClient = &http.Client{Timeout: 30 * time.Second}

func postJSON(url string, body any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := httpClient.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: %s", resp.Status, bytes.TrimSpace(msg))
	}
	return nil
}

func get(url string) ([]byte, error) {
	resp, err := httpClient.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s: %s", resp.Status, bytes.TrimSpace(b))
	}
	return b, nil
}
