package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/becomeliminal/nim-memory/memory"
)

type rootOptions struct {
	configPath string
	backend    string
	dataDir    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "memoryctl",
		Short: "Store, enrich and search layered memories",
		Long: `memoryctl manages a four-layer memory store: exact content with
embeddings, typed tags, generated summaries and meta-commentary across
groups of memories. Without a vector index it falls back to a plain
directory tree and substring search.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.backend, "backend", "", "override the backend (memory, chromem, sqlite, local)")
	cmd.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "override the data directory")

	cmd.AddCommand(
		newIngestCmd(opts),
		newSearchCmd(opts),
		newGetCmd(opts),
		newDeleteCmd(opts),
		newListCmd(opts),
		newTagsCmd(opts),
		newSummarizeCmd(opts),
		newAnalyzeCmd(opts),
		newCommentaryCmd(opts),
		newRelateCmd(opts),
		newConnectionsCmd(opts),
		newRecallCmd(opts),
		newServeCmd(opts),
	)
	return cmd
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// parseTags reads "type:value" or "type:value:score" arguments. A bare value
// gets the default type.
func parseTags(raw []string) ([]memory.Tag, error) {
	out := make([]memory.Tag, 0, len(raw))
	for _, r := range raw {
		parts := strings.SplitN(r, ":", 3)
		var t memory.Tag
		switch len(parts) {
		case 1:
			t = memory.NewTag(memory.DefaultTagType, parts[0])
		case 2:
			t = memory.NewTag(parts[0], parts[1])
		case 3:
			score, err := strconv.ParseFloat(parts[2], 64)
			if err != nil {
				return nil, fmt.Errorf("tag %q: bad score: %w", r, err)
			}
			t = memory.Tag{Type: parts[0], Value: parts[1], Score: score}
		}
		if t.Value == "" {
			return nil, fmt.Errorf("tag %q has no value", r)
		}
		out = append(out, t)
	}
	return out, nil
}

// parseMetadata reads key=value pairs.
func parseMetadata(raw []string) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(raw))
	for _, r := range raw {
		k, v, ok := strings.Cut(r, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("metadata %q: want key=value", r)
		}
		out[k] = v
	}
	return out, nil
}

func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}
