package main

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/becomeliminal/nim-memory/memory"
	"github.com/becomeliminal/nim-memory/memory/localstore"
	"github.com/becomeliminal/nim-memory/memory/search"
)

func newSearchCmd(root *rootOptions) *cobra.Command {
	var (
		searchType   string
		rawTags      []string
		limit        int
		offset       int
		vectorWeight float64
		tagWeight    float64
	)
	cmd := &cobra.Command{
		Use:   "search [query...]",
		Short: "Search memories by similarity, tags, or both",
		Long: `Search memories. The default "auto" type runs a tag search when tags are
given, narrowed by the query if there is one, and a similarity search
otherwise. Use --type dual to blend both scores.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tags, err := parseTags(rawTags)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer a.Close()

			rs, err := a.searcher.Search(cmd.Context(), search.Request{
				Query:        joinArgs(args),
				Type:         search.Type(searchType),
				Tags:         tags,
				Limit:        limit,
				Offset:       offset,
				VectorWeight: vectorWeight,
				TagWeight:    tagWeight,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rs)
		},
	}
	f := cmd.Flags()
	f.StringVar(&searchType, "type", string(search.TypeAuto), "auto, vector, tag or dual")
	f.StringArrayVarP(&rawTags, "tag", "t", nil, "tag as type:value, repeatable")
	f.IntVarP(&limit, "limit", "n", search.DefaultLimit, "maximum results")
	f.IntVar(&offset, "offset", 0, "results to skip")
	f.Float64Var(&vectorWeight, "vector-weight", search.DefaultWeight, "weight of the similarity score in dual searches")
	f.Float64Var(&tagWeight, "tag-weight", search.DefaultWeight, "weight of the tag score in dual searches")
	return cmd
}

func newGetCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <memory-id>",
		Short: "Show a memory with its tags and commentary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.searcher.GetMemory(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec)
		},
	}
}

func newDeleteCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <memory-id>",
		Short: "Delete a memory and its tags",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer a.Close()

			var deleted bool
			if a.manager != nil {
				deleted, err = a.manager.Delete(cmd.Context(), args[0])
			} else {
				deleted, err = a.local.Delete(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"memory_id": args[0], "deleted": deleted})
		},
	}
}

type listOutput struct {
	Memories   []memory.Memory `json:"memories"`
	NextCursor string          `json:"next_cursor,omitempty"`
	Total      int             `json:"total"`
}

func newListCmd(root *rootOptions) *cobra.Command {
	var opts memory.ListOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored memories",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, root)
			if err != nil {
				return err
			}
			defer a.Close()

			var out listOutput
			if a.manager == nil {
				out, err = listLocal(ctx, a, opts)
			} else {
				out.Memories, out.NextCursor, err = a.manager.List(ctx, opts)
				if err == nil {
					out.Total, err = a.manager.Count(ctx, opts.ContentType, opts.Source)
				}
			}
			if err != nil {
				return err
			}
			if out.Memories == nil {
				out.Memories = []memory.Memory{}
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	f := cmd.Flags()
	f.IntVarP(&opts.Limit, "limit", "n", 20, "page size")
	f.StringVar(&opts.Cursor, "cursor", "", "cursor from a previous page")
	f.StringVar(&opts.ContentType, "type", "", "only this content type")
	f.StringVar(&opts.Source, "source", "", "only this source")
	return cmd
}

// listLocal pages by memory ID; the cursor is the first ID of the next page.
func listLocal(ctx context.Context, a *app, opts memory.ListOptions) (listOutput, error) {
	var matched []memory.Memory
	err := a.local.Walk(ctx, func(rec localstore.Record) error {
		m := recordMemory(&rec)
		if (opts.ContentType == "" || m.ContentType == opts.ContentType) && (opts.Source == "" || m.Source == opts.Source) {
			matched = append(matched, *m)
		}
		return nil
	})
	if err != nil {
		return listOutput{}, err
	}
	out := listOutput{Total: len(matched)}
	start := 0
	if opts.Cursor != "" {
		start, _ = slices.BinarySearchFunc(matched, opts.Cursor, func(m memory.Memory, id string) int {
			return strings.Compare(m.ID, id)
		})
	}
	end := len(matched)
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
		out.NextCursor = matched[end].ID
	}
	out.Memories = matched[start:end]
	return out, nil
}

func newTagsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tags",
		Short: "Show every tag value grouped by type",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer a.Close()

			catalog, err := a.searcher.AllTags(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), catalog)
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "add <memory-id> <type:value[:score]>...",
		Short: "Attach tags to a memory",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tags, err := parseTags(args[1:])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := openApp(ctx, root)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.manager != nil {
				if _, err := a.manager.AddTags(ctx, args[0], tags); err != nil {
					return err
				}
				tags, err = a.manager.Tags(ctx, args[0])
			} else {
				tags, err = addLocalTags(ctx, a, args[0], tags)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"memory_id": args[0], "tags": tags})
		},
	})
	return cmd
}

func addLocalTags(ctx context.Context, a *app, id string, tags []memory.Tag) ([]memory.Tag, error) {
	rec, err := a.local.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	rec.Tags = append(rec.Tags, tags...)
	rec.AIAnalysis = nil
	if err := a.local.Put(ctx, *rec); err != nil {
		return nil, err
	}
	return rec.Tags, nil
}

func newRecallCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "recall <query...>",
		Short: "Render the memories most relevant to a query as prompt context",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.needManager(); err != nil {
				return err
			}

			out, err := a.manager.Recall(cmd.Context(), joinArgs(args))
			if err != nil {
				return err
			}
			if out == "" {
				cmd.PrintErrln("no relevant memories")
				return nil
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
			return err
		},
	}
}
