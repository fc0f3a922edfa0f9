// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/pflag"

	"github.com/go2link/go2link/cmd/go2link/cli"
	"github.com/go2link/go2link/lib/capture"
)

type replayParams struct {
	topics []string
	types  []string
	limit  int
}

func replayCommand(stdout io.Writer) *cli.Command {
	var params replayParams
	return &cli.Command{
		Name:        "replay",
		Summary:     "Print the messages in a journal",
		Description: "Print every message recorded by 'go2link connect --record' as JSON lines.",
		Usage:       "go2link replay [flags] <journal>",
		Examples: []cli.Example{
			{Description: "Show only low-level state", Command: "go2link replay --topic rt/lf/lowstate session.journal"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("replay", pflag.ContinueOnError)
			flagSet.StringSliceVar(&params.topics, "topic", nil, "only print these topics (repeatable)")
			flagSet.StringSliceVar(&params.types, "type", nil, "only print these message types (repeatable)")
			flagSet.IntVar(&params.limit, "limit", 0, "stop after this many printed messages (0 = all)")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return errors.New("replay takes exactly one journal path")
			}
			return runReplay(stdout, args[0], params)
		},
	}
}

func runReplay(stdout io.Writer, path string, params replayParams) error {
	reader, err := capture.Open(path)
	if err != nil {
		return err
	}
	defer reader.Close()

	printer := newMessagePrinter(stdout)
	printed := 0
	for {
		record, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: after %d messages: %w", path, printed, err)
		}
		if len(params.topics) > 0 && !slices.Contains(params.topics, record.Topic) {
			continue
		}
		if len(params.types) > 0 && !slices.Contains(params.types, record.Type) {
			continue
		}
		if err := printer.print(record.Time(), record.Message()); err != nil {
			return err
		}
		printed++
		if params.limit > 0 && printed >= params.limit {
			return nil
		}
	}
}
