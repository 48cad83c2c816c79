package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"nasferry/internal/integrity"
	"nasferry/internal/logging"
	"nasferry/internal/records"
)

type verifyResultView struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Path      string `json:"path"`
	Algorithm string `json:"algorithm"`
	Found     bool   `json:"found"`
	Value     string `json:"value,omitempty"`
	Changed   bool   `json:"changed"`
	Error     string `json:"error,omitempty"`
}

func newVerifyCommand(ctx *commandContext) *cobra.Command {
	var statusFlag string
	var algorithmFlag string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Compute and persist content hashes for tracked files",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, ok := records.ParseStatus(statusFlag)
			if !ok {
				return fmt.Errorf("unknown status %q", statusFlag)
			}
			env, err := ctx.openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			algName := algorithmFlag
			if strings.TrimSpace(algName) == "" {
				algName = env.cfg.Download.HashAlgorithm
			}
			alg, ok := records.ParseHashAlgorithm(algName)
			if !ok {
				return fmt.Errorf("unsupported algorithm %q", algName)
			}

			recs, err := env.store.GetDownloadedFilesByStatus(cmd.Context(), status)
			if err != nil {
				return fmt.Errorf("load %s records: %w", status, err)
			}
			verifier := integrity.NewVerifier(env.store, env.logger, ctx.metrics)
			results := make([]verifyResultView, 0, len(recs))
			for _, rec := range recs {
				if rec.IsDir {
					continue
				}
				if err := cmd.Context().Err(); err != nil {
					return err
				}
				previous, previousAlg := rec.FileHash, rec.HashAlgorithm
				view := verifyResultView{ID: rec.ID, Name: rec.Name, Path: rec.ResolvedPath(), Algorithm: string(alg)}
				res, err := verifier.UpdateHash(cmd.Context(), rec, alg)
				switch {
				case err != nil:
					view.Error = err.Error()
					logging.WarnWithContext(env.logger, "verify failed", "verify_failed",
						logging.RecordID(rec.ID),
						logging.Error(err),
					)
				case res.Found:
					view.Found = true
					view.Value = res.Value
					view.Changed = previous != "" && previousAlg == res.Algorithm && previous != res.Value
				}
				results = append(results, view)
			}
			ctx.exportMetrics(env)

			if ctx.jsonOutput {
				return writeJSON(cmd, results)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderVerifyResults(results))
			return nil
		},
	}
	cmd.Flags().StringVar(&statusFlag, "status", string(records.StatusRouted), "Record status to verify")
	cmd.Flags().StringVar(&algorithmFlag, "algorithm", "", "Hash algorithm (crc32, sha1, sha256, md5); defaults to download.hash_algorithm")
	return cmd
}

func renderVerifyResults(results []verifyResultView) string {
	if len(results) == 0 {
		return "No files to verify\n"
	}
	rows := make([][]string, 0, len(results))
	missing, failed, changed := 0, 0, 0
	for _, res := range results {
		value := res.Value
		switch {
		case res.Error != "":
			value = "error: " + res.Error
			failed++
		case !res.Found:
			value = "missing"
			missing++
		case res.Changed:
			value += " (changed)"
			changed++
		}
		rows = append(rows, []string{strconv.FormatInt(res.ID, 10), truncate(res.Name, 60), res.Algorithm, value})
	}
	var b strings.Builder
	b.WriteString(renderTable([]string{"ID", "Name", "Algorithm", "Hash"}, rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft}))
	b.WriteString("\n")
	fmt.Fprintf(&b, "%d verified, %d missing, %d changed, %d failed\n", len(results)-missing-failed, missing, changed, failed)
	return b.String()
}
