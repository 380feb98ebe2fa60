package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/becomeliminal/nim-memory/memory"
	"github.com/becomeliminal/nim-memory/memory/localstore"
)

// load fetches memories from whichever store is active.
func (a *app) load(ctx context.Context, ids []string) ([]memory.Memory, error) {
	out := make([]memory.Memory, 0, len(ids))
	for _, id := range ids {
		var m *memory.Memory
		if a.manager != nil {
			var err error
			if m, err = a.manager.Get(ctx, id); err != nil {
				return nil, err
			}
		} else {
			rec, err := a.local.Get(ctx, id)
			if err != nil {
				return nil, err
			}
			m = recordMemory(rec)
		}
		out = append(out, *m)
	}
	return out, nil
}

func summaryTypes(raw []string) ([]memory.SummaryType, error) {
	out := make([]memory.SummaryType, 0, len(raw))
	for _, r := range raw {
		t := memory.SummaryType(r)
		switch t {
		case memory.SummaryGeneral, memory.SummaryTechnical, memory.SummaryConceptual:
			out = append(out, t)
		default:
			return nil, fmt.Errorf("unknown summary type %q", r)
		}
	}
	return out, nil
}

func commentaryTypes(raw []string) ([]memory.CommentaryType, error) {
	out := make([]memory.CommentaryType, 0, len(raw))
	for _, r := range raw {
		t := memory.CommentaryType(r)
		switch t {
		case memory.CommentaryConnections, memory.CommentaryPatterns, memory.CommentaryImplications:
			out = append(out, t)
		default:
			return nil, fmt.Errorf("unknown commentary type %q", r)
		}
	}
	return out, nil
}

func newSummarizeCmd(root *rootOptions) *cobra.Command {
	var rawTypes []string
	cmd := &cobra.Command{
		Use:   "summarize <memory-id>",
		Short: "Generate summaries of a memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			types, err := summaryTypes(rawTypes)
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
				sums, err := a.manager.Summaries(ctx, args[0], types...)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), sums)
			}

			mems, err := a.load(ctx, args)
			if err != nil {
				return err
			}
			if len(types) == 0 {
				types = memory.SummaryTypes
			}
			sums := make(map[memory.SummaryType]*memory.Summary, len(types))
			for _, t := range types {
				sums[t] = a.summarizer.GenerateSummary(ctx, &mems[0], t)
			}
			return printJSON(cmd.OutOrStdout(), sums)
		},
	}
	cmd.Flags().StringSliceVar(&rawTypes, "type", nil, "general, technical or conceptual (default all)")
	return cmd
}

func newAnalyzeCmd(root *rootOptions) *cobra.Command {
	var background string
	cmd := &cobra.Command{
		Use:   "analyze [content...]",
		Short: "Analyze content without storing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readContent(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer a.Close()

			analysis := a.summarizer.AnalyzeContent(cmd.Context(), content, background)
			if analysis == nil {
				return memory.ErrGenerationUnavailable
			}
			return printJSON(cmd.OutOrStdout(), analysis)
		},
	}
	cmd.Flags().StringVar(&background, "background", "", "extra context for the analysis")
	return cmd
}

func newCommentaryCmd(root *rootOptions) *cobra.Command {
	var (
		rawTypes []string
		list     bool
	)
	cmd := &cobra.Command{
		Use:   "commentary <memory-id>...",
		Short: "Generate and archive meta-commentary about a group of memories",
		Long: `Generate meta-commentary about a group of memories and archive it.
With --list, show the archived commentary that references a single memory.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			types, err := commentaryTypes(rawTypes)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := openApp(ctx, root)
			if err != nil {
				return err
			}
			defer a.Close()

			if list {
				if len(args) != 1 {
					return errors.New("--list takes exactly one memory id")
				}
				mcs, err := a.local.MetaCommentariesFor(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), mcs)
			}

			if a.manager != nil {
				mcs, err := a.manager.Commentary(ctx, args, types...)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), mcs)
			}

			mcs, err := commentLocal(ctx, a, args, types)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), mcs)
		},
	}
	cmd.Flags().StringSliceVar(&rawTypes, "type", nil, "connections, patterns or implications (default all)")
	cmd.Flags().BoolVar(&list, "list", false, "list archived commentary for a memory instead of generating")
	return cmd
}

func commentLocal(ctx context.Context, a *app, ids []string, types []memory.CommentaryType) ([]*memory.MetaCommentary, error) {
	mems, err := a.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(types) == 0 {
		types = memory.CommentaryTypes
	}
	out := make([]*memory.MetaCommentary, 0, len(types))
	for _, t := range types {
		mc := a.commentator.GenerateMetaCommentary(ctx, mems, t)
		if err := a.local.SaveMetaCommentary(ctx, mc); err != nil {
			a.log.Warn("failed to archive commentary", zap.Error(err))
		}
		out = append(out, mc)
	}
	return out, nil
}

func newRelateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "relate <memory-id> <memory-id>",
		Short: "Describe how two memories relate",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, root)
			if err != nil {
				return err
			}
			defer a.Close()

			var rel *memory.Relationship
			if a.manager != nil {
				rel, err = a.manager.Relationship(ctx, args[0], args[1])
			} else {
				var mems []memory.Memory
				if mems, err = a.load(ctx, args); err == nil {
					rel = a.commentator.AnalyzeRelationship(ctx, &mems[0], &mems[1])
				}
			}
			if err != nil {
				return err
			}
			if rel == nil {
				return memory.ErrGenerationUnavailable
			}
			return printJSON(cmd.OutOrStdout(), rel)
		},
	}
}

func newConnectionsCmd(root *rootOptions) *cobra.Command {
	var maxConnections int
	cmd := &cobra.Command{
		Use:   "connections <memory-id>",
		Short: "Suggest memories worth connecting to a memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, root)
			if err != nil {
				return err
			}
			defer a.Close()

			var conns []memory.Connection
			if a.manager != nil {
				conns, err = a.manager.SuggestConnections(ctx, args[0], maxConnections)
			} else {
				conns, err = connectLocal(ctx, a, args[0], maxConnections)
			}
			if err != nil {
				return err
			}
			if conns == nil {
				conns = []memory.Connection{}
			}
			return printJSON(cmd.OutOrStdout(), conns)
		},
	}
	cmd.Flags().IntVar(&maxConnections, "max", 0, "maximum suggestions (default from config)")
	return cmd
}

// connectLocal offers every other stored memory as a candidate; the
// commentator caps how many reach the prompt.
func connectLocal(ctx context.Context, a *app, id string, maxConnections int) ([]memory.Connection, error) {
	target, err := a.load(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	var candidates []memory.Memory
	err = a.local.Walk(ctx, func(rec localstore.Record) error {
		if rec.MemoryID != id {
			candidates = append(candidates, *recordMemory(&rec))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if maxConnections <= 0 {
		maxConnections = a.cfg.Manager.MaxConnections
	}
	return a.commentator.SuggestNewConnections(ctx, &target[0], candidates, maxConnections), nil
}
