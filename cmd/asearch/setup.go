package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// runSetup interactively collects credentials and writes a config file
// skeleton. Secrets are read without echo when stdin is a terminal.
func runSetup() {
	path := "asearch.json"
	if len(os.Args) > 2 {
		path = os.Args[2]
	}

	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(os.Stderr, "%s already exists, refusing to overwrite\n", path)
		os.Exit(1)
	}

	fmt.Println("A-Search setup. Press enter to leave a value empty and fill it in later.")

	botToken := readSecret("Slack bot token (xoxb-...): ")
	appToken := readSecret("Slack app token (xapp-...): ")

	var apiKeys []string
	for i := 1; ; i++ {
		key := readSecret(fmt.Sprintf("Gemini API key #%d (empty to finish): ", i))
		if key == "" {
			break
		}
		apiKeys = append(apiKeys, key)
	}
	if len(apiKeys) == 0 {
		apiKeys = []string{"${GEMINI_API_KEY}"}
		fmt.Println("No keys entered; the config will reference ${GEMINI_API_KEY}.")
	}

	cfg := map[string]any{
		"slack": map[string]string{
			"botToken": botToken,
			"appToken": appToken,
		},
		"gemini": map[string]any{
			"apiKeys": apiKeys,
		},
		"database": map[string]string{
			"path": "asearch.db",
		},
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode config: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		fmt.Fprintf(os.Stderr, "write %s: %v\n", path, err)
		os.Exit(1)
	}

	fmt.Printf("Wrote %s. Start the bot with: asearch -config %s\n", path, path)
}

// readSecret prompts for a value, suppressing echo on a real terminal.
func readSecret(prompt string) string {
	fmt.Print(prompt)

	if term.IsTerminal(int(os.Stdin.Fd())) {
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(b))
	}

	r := bufio.NewReader(os.Stdin)
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return ""
	}
	return strings.TrimSpace(line)
}
