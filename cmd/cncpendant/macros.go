package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
)

// ============================================================================
// CNCjs macros
// ============================================================================
// Macro bindings in the config name a CNCjs macro. At startup the macro list
// is fetched from the CNCjs REST API and every binding becomes a fixed-command
// button emitting ("macro:run", id).
// ============================================================================

// ErrUnknownMacro is returned when a binding names a macro CNCjs does not have.
var ErrUnknownMacro = errors.New("unknown macro")

// Macro is one entry of the CNCjs macro list.
type Macro struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content,omitempty"`
}

type macroList struct {
	Records []Macro `json:"records"`
}

// MacroClient talks to the CNCjs REST API.
type MacroClient struct {
	BaseURL string // http://host:port
	Token   string
	HTTP    *http.Client
}

// NewMacroClient returns a client for the CNCjs server at addr (host:port).
func NewMacroClient(addr, token string) *MacroClient {
	return &MacroClient{
		BaseURL: (&url.URL{Scheme: "http", Host: addr}).String(),
		Token:   token,
		HTTP:    &http.Client{Timeout: defaultHTTPTimeout},
	}
}

// FetchMacros returns every macro defined on the server.
func (c *MacroClient) FetchMacros(ctx context.Context) ([]Macro, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/macros", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	var list macroList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("parse macro list: %w", err)
	}
	return list.Records, nil
}

// ResolveMacros turns bindings into macro buttons. Every binding must name an
// existing macro; the first macro with a matching name wins.
func ResolveMacros(ctx context.Context, client *MacroClient, bindings []MacroBinding, logger *slog.Logger) ([]MappedCommand, error) {
	if len(bindings) == 0 {
		return nil, nil
	}

	macros, err := client.FetchMacros(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch macros: %w", err)
	}
	byName := make(map[string]string, len(macros))
	for _, m := range macros {
		if _, dup := byName[m.Name]; !dup {
			byName[m.Name] = m.ID
		}
	}

	out := make([]MappedCommand, 0, len(bindings))
	for _, b := range bindings {
		id, ok := byName[b.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownMacro, b.Name)
		}
		logger.Debug("bound macro", "button", b.Button, "macro", b.Name, "id", id)
		out = append(out, MacroButton(b.Button, id))
	}
	return out, nil
}
