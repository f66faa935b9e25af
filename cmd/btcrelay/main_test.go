package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/180945/btcrelay/internal/chaintest"
	"github.com/stretchr/testify/require"
)

const genesisTime uint32 = 1_600_000_000

type result struct {
	code   int
	stdout string
	stderr string
}

func runCLI(t *testing.T, stdin string, args ...string) result {
	t.Helper()
	var out, errOut bytes.Buffer
	code := run(args, strings.NewReader(stdin), &out, &errOut)
	return result{code: code, stdout: out.String(), stderr: errOut.String()}
}

func TestRunStatusUninitialized(t *testing.T) {
	r := runCLI(t, "", "--network=regtest", "--dbbackend=memory", "status")
	require.Equal(t, 0, r.code, r.stderr)

	var st map[string]any
	require.NoError(t, json.Unmarshal([]byte(r.stdout), &st))
	require.Equal(t, "regtest", st["network"])
	require.Equal(t, false, st["initialized"])
}

func TestRunHelpAndErrors(t *testing.T) {
	r := runCLI(t, "", "--help")
	require.Equal(t, 0, r.code)
	require.Contains(t, r.stdout, "verify")

	r = runCLI(t, "", "--network=regtest", "--dbbackend=memory", "frobnicate")
	require.Equal(t, 1, r.code)
	require.Contains(t, r.stderr, "error:")

	r = runCLI(t, "", "--network=nope", "--dbbackend=memory", "status")
	require.Equal(t, 1, r.code)
	require.Contains(t, r.stderr, "unknown network")

	r = runCLI(t, "", "--network=regtest", "--dbbackend=memory", "submit")
	require.Equal(t, 1, r.code)

	r = runCLI(t, "", "--configfile", filepath.Join(t.TempDir(), "missing.json"), "status")
	require.Equal(t, 1, r.code)
	require.Contains(t, r.stderr, "read config")
}

func TestRunEndToEnd(t *testing.T) {
	dir := t.TempDir()
	base := []string{"--network=regtest", "--datadir", dir, "--loglevel=off"}
	cmd := func(args ...string) []string {
		return append(append([]string{}, base...), args...)
	}

	g := chaintest.Genesis(genesisTime, chaintest.RegtestBits)
	r := runCLI(t, "", cmd("init", "--header", hex.EncodeToString(g.Raw), "--height", "10")...)
	require.Equal(t, 0, r.code, r.stderr)
	require.Contains(t, r.stdout, `"best_height": 10`)

	r = runCLI(t, "", cmd("init", "--header", hex.EncodeToString(g.Raw), "--height", "10")...)
	require.Equal(t, 1, r.code)

	blocks := chaintest.Chain(g, 5, chaintest.RegtestBits, 1)
	submitArgs := []string{"submit"}
	for _, b := range blocks[:2] {
		submitArgs = append(submitArgs, hex.EncodeToString(b.Raw))
	}
	r = runCLI(t, "", cmd(submitArgs...)...)
	require.Equal(t, 0, r.code, r.stderr)

	var sub submitOutput
	require.NoError(t, json.Unmarshal([]byte(r.stdout), &sub))
	require.Equal(t, 2, sub.Accepted)
	require.Equal(t, uint32(12), sub.BestHeight)
	require.Equal(t, blocks[1].Hash.String(), sub.BestBlock)

	var lines strings.Builder
	lines.WriteString("# remaining headers\n")
	for _, b := range blocks {
		lines.WriteString(hex.EncodeToString(b.Raw))
		lines.WriteByte('\n')
	}
	file := filepath.Join(dir, "headers.txt")
	require.NoError(t, os.WriteFile(file, []byte(lines.String()), 0o600))

	r = runCLI(t, "", cmd("import", file)...)
	require.Equal(t, 0, r.code, r.stderr)
	require.Contains(t, r.stdout, `"Accepted": 3`)
	require.Contains(t, r.stdout, `"Skipped": 2`)

	r = runCLI(t, "", cmd("status")...)
	require.Equal(t, 0, r.code, r.stderr)
	require.Contains(t, r.stdout, `"best_height": 15`)

	// A single-transaction block proves its root with an empty proof.
	verify := cmd("verify",
		"--height", "10",
		"--txid", g.Header.MerkleRoot.String(),
		"--header", hex.EncodeToString(g.Raw),
		"--minconf", "1",
	)
	r = runCLI(t, "", verify...)
	require.Equal(t, 0, r.code, r.stderr)
	require.Equal(t, "true\n", r.stdout)

	// Six confirmations are available at height 10 with the tip at 15.
	r = runCLI(t, "", verify[:len(verify)-2]...)
	require.Equal(t, 0, r.code, r.stderr)

	r = runCLI(t, "", cmd("verify",
		"--height", "14",
		"--txid", blocks[3].Header.MerkleRoot.String(),
		"--header", hex.EncodeToString(blocks[3].Raw),
	)...)
	require.Equal(t, 1, r.code)
	require.Contains(t, r.stderr, "INSUFFICIENT_CONFIRMATIONS")
}

func TestRunImportFromStdin(t *testing.T) {
	base := []string{"--network=regtest", "--datadir", t.TempDir(), "--loglevel=off"}
	g := chaintest.Genesis(genesisTime, chaintest.RegtestBits)

	r := runCLI(t, "", append(base, "init", "--header", hex.EncodeToString(g.Raw), "--height", "1")...)
	require.Equal(t, 0, r.code, r.stderr)

	var in strings.Builder
	for _, b := range chaintest.Chain(g, 3, chaintest.RegtestBits, 7) {
		in.WriteString(hex.EncodeToString(b.Raw) + "\n")
	}
	r = runCLI(t, in.String(), append(base, "import", "-")...)
	require.Equal(t, 0, r.code, r.stderr)
	require.Contains(t, r.stdout, `"BestHeight": 4`)
}

func TestLoadOptionsConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"network":"signet","confirmations":3}`), 0o600))

	opts, err := loadOptions([]string{"--configfile", path, "status"})
	require.NoError(t, err)
	require.Equal(t, "signet", opts.Network)
	require.Equal(t, uint32(3), opts.Confirmations)
	require.Equal(t, "bolt", opts.DBBackend)
}
