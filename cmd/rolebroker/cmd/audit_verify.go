package cmd

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// Local copies of the audit response types so the verifier does not pull
// in the api package and the AWS SDK behind it.

type auditExport struct {
	Entries []auditExportEntry `json:"entries"`
	Head    string             `json:"head"`
}

type auditExportEntry struct {
	ID         string `json:"id"`
	Event      string `json:"event"`
	RoleARN    string `json:"role_arn,omitempty"`
	Session    string `json:"session,omitempty"`
	RemoteAddr string `json:"remote_addr,omitempty"`
	Detail     string `json:"detail,omitempty"`
	CreatedAt  string `json:"created_at"`
	PrevHash   string `json:"prev_hash"`
}

type verifyResult struct {
	File       string        `json:"file"`
	EntryCount int           `json:"entry_count"`
	Head       string        `json:"head,omitempty"`
	Valid      bool          `json:"valid"`
	Checks     []checkResult `json:"checks"`
}

type checkResult struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "pass", "fail", "warn"
	Detail string `json:"detail,omitempty"`
}

const (
	statusPass = "pass"
	statusFail = "fail"
	statusWarn = "warn"
)

func (r *verifyResult) add(name, status, detail string) {
	if status == statusFail {
		r.Valid = false
	}
	r.Checks = append(r.Checks, checkResult{Name: name, Status: status, Detail: detail})
}

const verifyGenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// verifyChainHash is SHA-256(id || prevHash || createdAt), hex encoded.
func verifyChainHash(entryID, prevHash, createdAt string) string {
	h := sha256.Sum256([]byte(entryID + prevHash + createdAt))
	return hex.EncodeToString(h[:])
}

func (e auditExportEntry) hash() string {
	return verifyChainHash(e.ID, e.PrevHash, e.CreatedAt)
}

func verifyAuditChain(export auditExport) verifyResult {
	result := verifyResult{
		EntryCount: len(export.Entries),
		Head:       export.Head,
		Valid:      true,
	}
	entries := export.Entries

	if len(entries) == 0 {
		result.add("empty_chain", statusPass, "no entries to verify")
		if export.Head != "" && export.Head != verifyGenesisHash {
			result.add("head_matches", statusFail, "empty chain must have the genesis head")
		}
		return result
	}

	// Retention re-anchors the oldest kept entry, so the first entry is
	// always expected to point at genesis.
	if entries[0].PrevHash == verifyGenesisHash {
		result.add("genesis_anchor", statusPass, "")
	} else {
		result.add("genesis_anchor", statusFail,
			fmt.Sprintf("first entry prev_hash=%s, expected genesis hash", entries[0].PrevHash))
	}

	result.add(checkContinuity(entries))
	result.add(checkDuplicateIDs(entries))
	result.add(checkTimestamps(entries))

	switch last := entries[len(entries)-1].hash(); {
	case export.Head == "":
		result.add("head_matches", statusWarn, "export has no head hash; truncation at the tail cannot be detected")
	case export.Head == last:
		result.add("head_matches", statusPass, "")
	default:
		result.add("head_matches", statusFail,
			fmt.Sprintf("head=%s but the last entry hashes to %s", export.Head, last))
	}
	return result
}

func checkContinuity(entries []auditExportEntry) (string, string, string) {
	for i := 1; i < len(entries); i++ {
		expected := entries[i-1].hash()
		if entries[i].PrevHash != expected {
			return "chain_continuity", statusFail,
				fmt.Sprintf("entry %d (id=%s) has prev_hash=%s but expected %s (computed from entry %d)",
					i, entries[i].ID, entries[i].PrevHash, expected, i-1)
		}
	}
	return "chain_continuity", statusPass, fmt.Sprintf("all %d entries link correctly", len(entries))
}

func checkDuplicateIDs(entries []auditExportEntry) (string, string, string) {
	seen := make(map[string]int, len(entries))
	for i, e := range entries {
		if prev, ok := seen[e.ID]; ok {
			return "no_duplicate_ids", statusFail, fmt.Sprintf("entry %d and entry %d share id=%s", prev, i, e.ID)
		}
		seen[e.ID] = i
	}
	return "no_duplicate_ids", statusPass, ""
}

// checkTimestamps only warns: clock steps on the server can legitimately
// reorder timestamps.
func checkTimestamps(entries []auditExportEntry) (string, string, string) {
	var prevTime time.Time
	allParsed := true
	for i, e := range entries {
		t, err := parseTimestamp(e.CreatedAt)
		if err != nil {
			allParsed = false
			continue
		}
		if !prevTime.IsZero() && t.Before(prevTime) {
			return "monotonic_timestamps", statusWarn,
				fmt.Sprintf("entry %d (created_at=%s) is earlier than entry %d", i, e.CreatedAt, i-1)
		}
		prevTime = t
	}
	if !allParsed {
		return "monotonic_timestamps", statusWarn, "some timestamps could not be parsed"
	}
	return "monotonic_timestamps", statusPass, ""
}

// parseTimestamp parses RFC3339Nano, falling back to RFC3339.
func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
	}
	return t, err
}

// readExport loads an export from path, or from stdin when path is "-".
func readExport(path string, stdin io.Reader) (auditExport, error) {
	var export auditExport
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return export, fmt.Errorf("cannot read file: %w", err)
	}
	if err := json.Unmarshal(data, &export); err != nil {
		return export, fmt.Errorf("invalid JSON: %w", err)
	}
	return export, nil
}

func printHumanResult(w io.Writer, result verifyResult) {
	fmt.Fprintf(w, "Audit chain verification: %s\n", result.File)
	fmt.Fprintf(w, "Entries: %d\n", result.EntryCount)
	if result.Head != "" {
		fmt.Fprintf(w, "Head:    %s\n", result.Head)
	}
	fmt.Fprintln(w)

	failures, warnings := 0, 0
	for _, c := range result.Checks {
		tag := "[PASS]"
		switch c.Status {
		case statusFail:
			tag = "[FAIL]"
			failures++
		case statusWarn:
			tag = "[WARN]"
			warnings++
		}
		if c.Detail != "" {
			fmt.Fprintf(w, "%s %s: %s\n", tag, c.Name, c.Detail)
		} else {
			fmt.Fprintf(w, "%s %s\n", tag, c.Name)
		}
	}

	fmt.Fprintln(w)
	if result.Valid {
		fmt.Fprintln(w, "Result: VALID")
		return
	}
	fmt.Fprintf(w, "Result: INVALID (%d error(s), %d warning(s))\n", failures, warnings)
}

func printJSONResult(w io.Writer, result verifyResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

var verifyJSONOutput bool

var verifyCmd = &cobra.Command{
	Use:   "verify [file|-]",
	Short: "Verify the integrity of a saved audit trail",
	Long: `Reads the JSON body of GET /api/auth/audit (from a file, or stdin with "-")
and verifies the genesis anchor, hash chain continuity, unique entry IDs,
timestamp ordering and the head hash.

Exits 0 when the chain is valid, 1 when a check fails and 2 when the input
cannot be read.`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func init() {
	auditCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().BoolVar(&verifyJSONOutput, "json", false, "Output results as JSON")
}

func runVerify(cmd *cobra.Command, args []string) error {
	export, err := readExport(args[0], cmd.InOrStdin())
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		os.Exit(2)
	}

	result := verifyAuditChain(export)
	result.File = args[0]

	out := cmd.OutOrStdout()
	if verifyJSONOutput {
		if err := printJSONResult(out, result); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
			os.Exit(2)
		}
	} else {
		printHumanResult(out, result)
	}

	if !result.Valid {
		os.Exit(1)
	}
	return nil
}
