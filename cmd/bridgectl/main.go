package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

func main() {
	addrFlag := flag.String("addr", "127.0.0.1:2999", "daemon address")
	jsonFlag := flag.Bool("json", false, "output raw JSON")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c := &client{
		base: "http://" + *addrFlag,
		http: &http.Client{Timeout: 10 * time.Second},
	}

	var err error
	switch args[0] {
	case "status":
		err = cmdStatus(c, *jsonFlag)
	case "purge":
		err = cmdPurge(c)
	case "failed":
		err = cmdFailed(c, *jsonFlag)
	case "send":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: bridgectl send <handle> <text>")
			os.Exit(1)
		}
		err = cmdSend(c, args[1], args[2])
	default:
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: bridgectl [flags] <command>

commands:
  status              show connection and sync status
  purge               delete all stored messages and reset the sync cursor
  failed              list attachments whose transfer failed
  send <handle> <text>  queue an outbound message

flags:
  -addr string        daemon address (default "127.0.0.1:2999")
  -json               output raw JSON`)
}

type client struct {
	base string
	http *http.Client
}

func (c *client) get(path string, out any) error {
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		return fmt.Errorf("cannot reach daemon: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	return decodeResponse(resp, out)
}

func (c *client) post(path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	resp, err := c.http.Post(c.base+path, "application/json", &buf)
	if err != nil {
		return fmt.Errorf("cannot reach daemon: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s", e.Error)
		}
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	return json.Unmarshal(data, out)
}

func cmdStatus(c *client, rawJSON bool) error {
	var st struct {
		Connected   bool   `json:"connected"`
		SyncState   string `json:"sync_state"`
		CursorRowid int64  `json:"cursor_rowid"`
		SyncedAt    int64  `json:"synced_at"`
		MinRowid    int64  `json:"min_rowid"`
		MaxRowid    int64  `json:"max_rowid"`
		Count       int64  `json:"message_count"`
	}
	if err := c.get("/api/v1/status", &st); err != nil {
		return err
	}
	if rawJSON {
		return printJSON(st)
	}
	conn := "disconnected"
	if st.Connected {
		conn = "connected"
	}
	fmt.Printf("source:    %s\n", conn)
	fmt.Printf("sync:      %s\n", st.SyncState)
	fmt.Printf("cursor:    %d\n", st.CursorRowid)
	fmt.Printf("messages:  %d (rowid %d..%d)\n", st.Count, st.MinRowid, st.MaxRowid)
	if st.SyncedAt > 0 {
		fmt.Printf("last sync: %s\n", time.UnixMilli(st.SyncedAt).Format(time.RFC3339))
	}
	return nil
}

func cmdPurge(c *client) error {
	var res struct {
		DeletedMessages    int64 `json:"deleted_messages"`
		DeletedAttachments int64 `json:"deleted_attachments"`
	}
	if err := c.post("/api/v1/purge", nil, &res); err != nil {
		return err
	}
	fmt.Printf("deleted %d messages, %d attachments\n", res.DeletedMessages, res.DeletedAttachments)
	return nil
}

func cmdFailed(c *client, rawJSON bool) error {
	var res struct {
		Attachments []struct {
			GUID         string  `json:"guid"`
			TransferName *string `json:"transfer_name"`
			TotalBytes   int64   `json:"total_bytes"`
			ErrorReason  *string `json:"error_reason"`
			ErrorDetails *string `json:"error_details"`
		} `json:"attachments"`
	}
	if err := c.get("/api/v1/attachments/failed", &res); err != nil {
		return err
	}
	if rawJSON {
		return printJSON(res)
	}
	if len(res.Attachments) == 0 {
		fmt.Println("no failed attachments")
		return nil
	}
	for _, a := range res.Attachments {
		name := "unknown"
		if a.TransferName != nil && *a.TransferName != "" {
			name = *a.TransferName
		}
		reason := ""
		if a.ErrorReason != nil {
			reason = *a.ErrorReason
		}
		if a.ErrorDetails != nil && *a.ErrorDetails != "" {
			reason += " (" + *a.ErrorDetails + ")"
		}
		fmt.Printf("%s\t%s\t%d bytes\t%s\n", a.GUID, name, a.TotalBytes, reason)
	}
	return nil
}

func cmdSend(c *client, handle, text string) error {
	var res struct {
		ClientMsgID string `json:"client_msg_id"`
		Queued      bool   `json:"queued"`
	}
	body := map[string]string{"handle_id": handle, "text": text}
	if err := c.post("/api/v1/send", body, &res); err != nil {
		return err
	}
	fmt.Printf("queued %s\n", res.ClientMsgID)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
