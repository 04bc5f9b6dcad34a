package cli

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lazypower/orgmem/internal/client"
	"github.com/lazypower/orgmem/internal/engine"
	"github.com/lazypower/orgmem/internal/memory"
)

var (
	serverURL   string
	remoteScope scopeFlags
	resolution  string
	queryArgs   struct {
		pattern string
		text    string
		layer   string
		tags    []string
		limit   int
	}
)

// remoteClient builds an API client for the running server.
func remoteClient(needScope bool) (*client.Client, error) {
	url := serverURL
	if url == "" && os.Getenv("ORGMEM_URL") == "" {
		url = fmt.Sprintf("http://%s", cfg.ListenAddr())
	}
	var tenant uuid.UUID
	if needScope {
		var err error
		if tenant, err = uuid.Parse(remoteScope.tenant); err != nil {
			return nil, fmt.Errorf("--tenant must be a uuid: %w", err)
		}
	}
	return client.New(url, tenant, remoteScope.team), nil
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check a running orgmem server",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := remoteClient(false)
		if err != nil {
			return err
		}
		h, err := c.Health(cmd.Context())
		if err != nil {
			return fmt.Errorf("server not reachable: %w", err)
		}
		return printJSON(cmd, h)
	},
}

var getCmd = &cobra.Command{
	Use:   "get <symbol>",
	Short: "Read a node from a running server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := remoteClient(true)
		if err != nil {
			return err
		}
		n, err := c.Get(cmd.Context(), args[0], memory.Resolution(resolution))
		if err != nil {
			return err
		}
		return printJSON(cmd, n)
	},
}

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query a running server by pattern, text, tags or layer",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := remoteClient(true)
		if err != nil {
			return err
		}
		tags, err := memory.ParseTags(queryArgs.tags)
		if err != nil {
			return err
		}
		res, err := c.Query(cmd.Context(), engine.Query{
			Pattern:    queryArgs.pattern,
			Text:       queryArgs.text,
			Layer:      memory.Layer(queryArgs.layer),
			Tags:       tags,
			Limit:      queryArgs.limit,
			Resolution: memory.Resolution(resolution),
		})
		if err != nil {
			return err
		}
		return printJSON(cmd, res)
	},
}

func init() {
	for _, cmd := range []*cobra.Command{statusCmd, getCmd, queryCmd} {
		cmd.Flags().StringVar(&serverURL, "url", "", "server URL (default from ORGMEM_URL or server.bind/port)")
	}
	for _, cmd := range []*cobra.Command{getCmd, queryCmd} {
		addScopeFlags(cmd, &remoteScope, true)
		cmd.Flags().StringVarP(&resolution, "resolution", "r", "", "micro, summary or full")
	}
	queryCmd.Flags().StringVar(&queryArgs.pattern, "pattern", "", "symbol glob, e.g. event.finding.*")
	queryCmd.Flags().StringVar(&queryArgs.text, "text", "", "semantic search text")
	queryCmd.Flags().StringVar(&queryArgs.layer, "layer", "", "layer filter")
	queryCmd.Flags().StringSliceVar(&queryArgs.tags, "tag", nil, "key:value tag, repeatable")
	queryCmd.Flags().IntVar(&queryArgs.limit, "limit", 10, "maximum nodes")

	rootCmd.AddCommand(statusCmd, getCmd, queryCmd)
}
