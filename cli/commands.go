package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/richinex/agentdock/agent"
	"github.com/richinex/agentdock/llm"
	"github.com/richinex/agentdock/openapi"
	"github.com/richinex/agentdock/retrieval"
	"github.com/richinex/agentdock/server"
	"github.com/richinex/agentdock/storage"
	"github.com/richinex/agentdock/stream"
	"github.com/richinex/agentdock/tools"
)

// Serve runs the HTTP API until ctx is cancelled.
func Serve(ctx context.Context, opts Options) error {
	app, err := Open(ctx, opts)
	if err != nil {
		return err
	}
	defer app.Close()

	srv, err := app.Server()
	if err != nil {
		return err
	}
	app.Logger.Info("listening", "addr", app.Settings.Server.Addr)
	return srv.ListenAndServe(ctx)
}

// Ingest uploads a local file into an agent's document collection.
func Ingest(ctx context.Context, out io.Writer, agentID, path string, opts Options) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	app, err := Open(ctx, opts)
	if err != nil {
		return err
	}
	defer app.Close()

	a, err := lookupAgent(ctx, app.Store, opts.User, agentID)
	if err != nil {
		return err
	}
	doc, err := app.Pipeline.Ingest(ctx, retrieval.IngestRequest{
		AgentID: a.ID,
		Name:    filepath.Base(path),
		Data:    data,
	})
	if err != nil {
		return err
	}
	return printJSON(out, doc)
}

// Search prints the retrieval result for query.
func Search(ctx context.Context, out io.Writer, agentID, query string, k int, opts Options) error {
	app, err := Open(ctx, opts)
	if err != nil {
		return err
	}
	defer app.Close()

	a, err := lookupAgent(ctx, app.Store, opts.User, agentID)
	if err != nil {
		return err
	}
	result, err := app.Pipeline.Search(ctx, a.ID, query, k)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, result)
	return err
}

// Translate prints the tool descriptors derived from an OpenAPI document
// read from a local file or fetched from a URL. It needs no configuration.
func Translate(ctx context.Context, out io.Writer, source string) error {
	var (
		descriptors []tools.Descriptor
		err         error
	)
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		descriptors, err = openapi.Load(ctx, nil, source)
	} else {
		var doc []byte
		doc, err = os.ReadFile(source)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", source, err)
		}
		descriptors, err = openapi.Translate(doc)
	}
	if err != nil {
		return err
	}
	return printJSON(out, descriptors)
}

// ChatOptions control a single CLI chat turn.
type ChatOptions struct {
	SessionID string
	NoStream  bool
}

// Chat runs one message against an agent and prints the event stream as
// NDJSON, the same wire format the HTTP endpoint produces.
func Chat(ctx context.Context, out io.Writer, agentID, message string, chat ChatOptions, opts Options) error {
	app, err := Open(ctx, opts)
	if err != nil {
		return err
	}
	defer app.Close()

	a, err := lookupAgent(ctx, app.Store, opts.User, agentID)
	if err != nil {
		return err
	}
	provider, err := app.Provider()
	if err != nil {
		return err
	}
	toolset, err := app.toolset(ctx, a)
	if err != nil {
		return err
	}
	defer toolset.Close()

	var history []llm.ChatMessage
	sessionKey := server.SessionKey(a.ID, chat.SessionID)
	if chat.SessionID != "" {
		history, err = app.Store.Load(ctx, sessionKey)
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runner := agent.New(provider, toolset.Registry, app.AgentConfig(), agent.WithLogger(app.Logger.With("agent_id", a.ID)))
	req := agent.Request{AgentID: a.ID, Instructions: a.Instructions, History: history, Message: message}

	events := make(chan stream.Event, app.Settings.Agent.StreamBuffer)
	done := make(chan error, 1)
	var result agent.Result
	go func() {
		var err error
		if chat.NoStream {
			result, err = runner.Complete(ctx, req, events)
		} else {
			result, err = runner.Run(ctx, req, events)
		}
		done <- err
	}()

	pumpErr := stream.Pump(ctx, events, stream.NewWriter(out))
	if pumpErr != nil {
		cancel()
	}
	runErr := <-done
	if runErr != nil {
		return runErr
	}
	if pumpErr != nil {
		return pumpErr
	}
	if chat.SessionID != "" {
		return app.Store.Save(context.WithoutCancel(ctx), sessionKey, result.Messages)
	}
	return nil
}

// ListTools prints the registry an agent would be offered.
func ListTools(ctx context.Context, out io.Writer, agentID string, verbose bool, opts Options) error {
	app, err := Open(ctx, opts)
	if err != nil {
		return err
	}
	defer app.Close()

	a, err := lookupAgent(ctx, app.Store, opts.User, agentID)
	if err != nil {
		return err
	}
	toolset, err := app.toolset(ctx, a)
	if err != nil {
		return err
	}
	defer toolset.Close()

	descriptors := toolset.Registry.List()
	sort.Slice(descriptors, func(i, j int) bool { return descriptors[i].Name < descriptors[j].Name })
	if verbose {
		return printJSON(out, descriptors)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tDESCRIPTION")
	for _, d := range descriptors {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Name, d.Binding.Kind(), firstLine(d.Description))
	}
	return tw.Flush()
}

func (a *App) toolset(ctx context.Context, ag storage.Agent) (*agent.Toolset, error) {
	apis, err := a.Store.ListOpenAPIs(ctx, ag.ID)
	if err != nil {
		return nil, err
	}
	servers, err := a.Store.ListMCPs(ctx, ag.ID)
	if err != nil {
		return nil, err
	}
	return agent.NewBuilder(ag.ID).
		OpenAPI(apis...).
		MCP(servers...).
		Retrieval(a.Pipeline, a.Settings.Retrieval.TopK).
		HTTPClient(a.HTTPClient).
		Executor(tools.NewExecutor(tools.ToolConfigFor(a.Settings.Agent.ToolTimeout)).WithLogger(a.Logger)).
		Logger(a.Logger).
		Build(ctx)
}

func lookupAgent(ctx context.Context, store storage.Store, user, agentID string) (storage.Agent, error) {
	if user == "" {
		return storage.Agent{}, fmt.Errorf("--user is required to act on agent %s", agentID)
	}
	a, err := store.GetAgent(ctx, user, agentID)
	if err != nil {
		return storage.Agent{}, fmt.Errorf("agent %s: %w", agentID, err)
	}
	return a, nil
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
