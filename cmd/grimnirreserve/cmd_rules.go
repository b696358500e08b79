/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/friendsincode/grimnir_reserve/internal/conflict"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect booking rules",
}

var rulesCheckCmd = &cobra.Command{
	Use:   "check <file>",
	Short: "Validate a booking rules file",
	Long: `Parse a booking rules YAML file and print the effective rules per resource.

Examples:
  grimnirreserve rules check rules.yaml
`,
	Args: cobra.ExactArgs(1),
	RunE: runRulesCheck,
}

func init() {
	rulesCmd.AddCommand(rulesCheckCmd)
	rootCmd.AddCommand(rulesCmd)
}

func runRulesCheck(cmd *cobra.Command, args []string) error {
	book, err := conflict.LoadRules(args[0], conflict.Rules{})
	if err != nil {
		return err
	}
	printRules(cmd.OutOrStdout(), book)
	return nil
}

func printRules(w io.Writer, book *conflict.RuleBook) {
	fmt.Fprintf(w, "%-20s %s\n", "defaults", formatRules(book.For("")))

	ids := book.Resources()
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(w, "%-20s %s\n", id, formatRules(book.For(id)))
	}
}

func formatRules(r conflict.Rules) string {
	return fmt.Sprintf("buffer=%s min=%s max=%s notice=%s advance=%s",
		r.Buffer, r.MinDuration, r.MaxDuration, r.MinNotice, r.MaxAdvance)
}
