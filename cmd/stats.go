// Copyright 2025 Arion Yau
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"iris/internal/journal"
)

var (
	statsJournalPath string
	statsRecent      int
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the request journal",
	RunE: func(cmd *cobra.Command, args []string) error {
		j, err := journal.Open(statsJournalPath)
		if err != nil {
			return err
		}
		defer j.Close()

		summaries, err := j.Summary()
		if err != nil {
			return err
		}
		if len(summaries) == 0 {
			fmt.Println("journal is empty")
			return nil
		}

		fmt.Printf("%-16s %10s %10s %14s\n", "OP", "REQUESTS", "FAILURES", "AVG MS")
		for _, s := range summaries {
			fmt.Printf("%-16s %10d %10d %14.3f\n", s.Op, s.Requests, s.Failures, s.AvgDurationMS)
		}

		if statsRecent > 0 {
			entries, err := j.Recent(statsRecent)
			if err != nil {
				return err
			}
			fmt.Println()
			for _, e := range entries {
				status := "ok"
				if !e.OK {
					status = "failed"
				}
				fmt.Printf("#%d %s %s %.3fms %dB->%dB %s\n",
					e.ID, e.Op, status, e.DurationMS, e.RequestBytes, e.ResponseBytes,
					e.CreatedAt.Format("2006-01-02 15:04:05"))
			}
		}
		return nil
	},
}

func init() {
	statsCmd.Flags().StringVarP(&statsJournalPath, "journal", "j", "iris-journal.db", "path to journal database")
	statsCmd.Flags().IntVarP(&statsRecent, "recent", "r", 0, "also print the N most recent requests")
}
