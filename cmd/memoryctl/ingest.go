package main

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/becomeliminal/nim-memory/memory"
	"github.com/becomeliminal/nim-memory/memory/localstore"
)

var errStop = errors.New("stop")

type ingestOptions struct {
	contentType string
	source      string
	tags        []string
	metadata    []string
	dedup       bool
	suggestTags bool
	summarize   bool
	related     int
}

type ingestOutput struct {
	Memory     *memory.Memory                         `json:"memory"`
	Duplicate  bool                                   `json:"duplicate"`
	Summaries  map[memory.SummaryType]*memory.Summary `json:"summaries,omitempty"`
	Commentary *memory.MetaCommentary                 `json:"commentary,omitempty"`
}

func newIngestCmd(root *rootOptions) *cobra.Command {
	opts := &ingestOptions{}
	cmd := &cobra.Command{
		Use:   "ingest [content...]",
		Short: "Store a memory",
		Long:  "Store a memory. With no arguments, or a single \"-\", content is read from stdin.",
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readContent(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			tags, err := parseTags(opts.tags)
			if err != nil {
				return err
			}
			metadata, err := parseMetadata(opts.metadata)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := openApp(ctx, root)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.manager == nil {
				out, err := ingestLocal(ctx, a, content, tags, metadata, opts)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), out)
			}

			res, err := a.manager.Ingest(ctx, memory.IngestRequest{
				Content:     content,
				ContentType: opts.contentType,
				Source:      opts.source,
				Metadata:    metadata,
				Tags:        tags,
				Dedup:       opts.dedup,
				SuggestTags: opts.suggestTags,
				Summarize:   opts.summarize,
				Related:     opts.related,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), ingestOutput{
				Memory:     res.Memory,
				Duplicate:  res.Duplicate,
				Summaries:  res.Summaries,
				Commentary: res.Commentary,
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.contentType, "type", "", "content type (default \"text\")")
	f.StringVar(&opts.source, "source", "", "source (default \"user\")")
	f.StringArrayVarP(&opts.tags, "tag", "t", nil, "tag as type:value[:score], repeatable")
	f.StringArrayVarP(&opts.metadata, "meta", "m", nil, "metadata as key=value, repeatable")
	f.BoolVar(&opts.dedup, "dedup", false, "return the existing memory if the content is already stored")
	f.BoolVar(&opts.suggestTags, "suggest-tags", false, "add generated tag suggestions")
	f.BoolVar(&opts.summarize, "summarize", false, "generate summaries of every type")
	f.IntVar(&opts.related, "related", 0, "write a connections commentary with this many nearest memories")
	return cmd
}

func readContent(r io.Reader, args []string) (string, error) {
	if len(args) == 0 || (len(args) == 1 && args[0] == "-") {
		data, err := io.ReadAll(r)
		if err != nil {
			return "", err
		}
		args = []string{string(data)}
	}
	content := strings.TrimSpace(strings.Join(args, " "))
	if content == "" {
		return "", errors.New("no content")
	}
	return content, nil
}

// ingestLocal writes straight to the directory tree. Summaries land in the
// record's ai_analysis; there is no nearest-neighbour step without an index.
func ingestLocal(ctx context.Context, a *app, content string, tags []memory.Tag, metadata map[string]any, opts *ingestOptions) (*ingestOutput, error) {
	if opts.dedup {
		var existing *localstore.Record
		hash := memory.ContentHash(content)
		err := a.local.Walk(ctx, func(rec localstore.Record) error {
			if memory.ContentHash(rec.Content) == hash {
				existing = &rec
				return errStop
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStop) {
			return nil, err
		}
		if existing != nil {
			return &ingestOutput{Memory: recordMemory(existing), Duplicate: true}, nil
		}
	}

	if opts.suggestTags {
		tags = append(tags, a.summarizer.SuggestTags(ctx, content)...)
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	if opts.contentType != "" {
		metadata["content_type"] = opts.contentType
	}
	if opts.source != "" {
		metadata["source"] = opts.source
	}

	rec := localstore.Record{
		MemoryID: memory.NewID(),
		Content:  content,
		Metadata: metadata,
		Tags:     tags,
	}
	out := &ingestOutput{}
	if opts.summarize {
		mem := recordMemory(&rec)
		out.Summaries = a.summarizer.GenerateMultipleSummaries(ctx, mem)
		analysis := make(map[string]any, len(out.Summaries))
		for t, s := range out.Summaries {
			analysis[string(t)] = map[string]any{"summary_text": s.Text, "model": s.Model}
		}
		rec.AIAnalysis = map[string]any{"summaries": analysis}
	}
	if err := a.local.Put(ctx, rec); err != nil {
		return nil, err
	}
	out.Memory = recordMemory(&rec)
	return out, nil
}

func recordMemory(rec *localstore.Record) *memory.Memory {
	m := &memory.Memory{
		ID:          rec.MemoryID,
		Content:     rec.Content,
		ContentHash: memory.ContentHash(rec.Content),
		ContentType: memory.DefaultContentType,
		Source:      memory.DefaultSource,
		Metadata:    rec.Metadata,
		Tags:        rec.Tags,
	}
	if s, ok := rec.Metadata["content_type"].(string); ok && s != "" {
		m.ContentType = s
	}
	if s, ok := rec.Metadata["source"].(string); ok && s != "" {
		m.Source = s
	}
	return m
}
