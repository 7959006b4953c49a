package cli

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/psbthsm/internal/model"
	"github.com/roach88/psbthsm/internal/vault"
	"github.com/roach88/psbthsm/internal/worker"
)

// SignedSuffix is appended to a PSBT file name to form its output path.
const SignedSuffix = ".signed"

// SignOptions holds options for the sign command.
type SignOptions struct {
	*RootOptions
	SeedFile    string
	EntropyHex  string
	PolicyLock  bool
	MetricsFile string
	OutDir      string
	Jobs        int
}

// SignResult is the outcome for one PSBT file.
type SignResult struct {
	File       string    `json:"file"`
	Output     string    `json:"output,omitempty"`
	Signatures int       `json:"signatures"`
	Error      *CLIError `json:"error,omitempty"`
}

// SignReport is the result of the sign command.
type SignReport struct {
	Fingerprint string       `json:"fingerprint"`
	Policies    int          `json:"policies"`
	Results     []SignResult `json:"results"`
}

// Failed reports whether any file failed.
func (r SignReport) Failed() bool {
	for _, res := range r.Results {
		if res.Error != nil {
			return true
		}
	}
	return false
}

func (r SignReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "vault %s with %d policies", r.Fingerprint, r.Policies)
	for _, res := range r.Results {
		if res.Error != nil {
			fmt.Fprintf(&b, "\nFAIL %s: [%s] %s", res.File, res.Error.Code, res.Error.Message)
			continue
		}
		fmt.Fprintf(&b, "\nOK   %s -> %s (%d signatures)", res.File, res.Output, res.Signatures)
	}
	return b.String()
}

// NewSignCommand creates the sign command.
func NewSignCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SignOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sign <psbt-file>...",
		Short: "Sign PSBT files with a sealed vault",
		Long: `Loads every catalog policy and the seed into a fresh vault, seals it,
and submits each PSBT file to the signing worker.

PSBT files may be raw binary or base64. Each signed packet is written,
base64 encoded and not finalized, next to its input with a .signed suffix
(or into --out-dir).

The seed file holds the BIP32 seed as hex. Signing entropy is read from
the system random source unless --entropy-hex is given.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSign(cmd, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.SeedFile, "seed-file", "", "path to a file holding the hex seed (required)")
	cmd.Flags().StringVar(&opts.EntropyHex, "entropy-hex", "", "32 bytes of signing entropy as hex")
	cmd.Flags().BoolVar(&opts.PolicyLock, "policy-lock", false, "refuse policy changes once the seed is loaded")
	cmd.Flags().StringVar(&opts.MetricsFile, "metrics-file", "", "write worker metrics in Prometheus text format to this path")
	cmd.Flags().StringVar(&opts.OutDir, "out-dir", "", "directory for signed PSBTs (default: beside each input)")
	cmd.Flags().IntVar(&opts.Jobs, "jobs", 4, "maximum concurrent submissions")
	_ = cmd.MarkFlagRequired("seed-file")

	return cmd
}

func runSign(cmd *cobra.Command, opts *SignOptions, files []string) error {
	ctx := cmd.Context()
	log := opts.Logger
	out := opts.Formatter(cmd)

	entropy, err := signingEntropy(opts.EntropyHex)
	if err != nil {
		return WrapExitError(ExitCommandError, "signing entropy", err)
	}

	vopts := []vault.Option{vault.WithNetwork(opts.Params), vault.WithLogger(log)}
	if opts.PolicyLock {
		vopts = append(vopts, vault.WithPolicyLock())
	}
	u := vault.New(vopts...)

	cat, err := openCatalog(opts.RootOptions)
	if err != nil {
		return err
	}
	n, err := cat.LoadInto(ctx, u)
	cat.Close()
	if err != nil {
		return out.Fail(failureCode(err), "load policies", err)
	}
	log.Debug().Int("policies", n).Msg("loaded catalog")

	if err := loadSeedFile(u, opts.SeedFile); err != nil {
		return out.Fail(failureCode(err), "load seed", err)
	}

	sealed, err := u.Seal(entropy)
	if err != nil {
		return out.Fail(failureCode(err), "seal vault", err)
	}
	defer sealed.Wipe()

	registry := prometheus.NewRegistry()
	w := worker.New(sealed,
		worker.WithMetrics(worker.NewMetrics(registry)),
		worker.WithLogger(log),
	)

	report := SignReport{
		Fingerprint: vault.FormatFingerprint(sealed.Fingerprint()),
		Policies:    len(sealed.PolicyIDs()),
		Results:     submitAll(ctx, w, opts, files),
	}

	if opts.MetricsFile != "" {
		if err := prometheus.WriteToTextfile(opts.MetricsFile, registry); err != nil {
			return WrapExitError(ExitCommandError, "write metrics", err)
		}
	}

	if err := out.Success(report); err != nil {
		return err
	}
	if report.Failed() {
		return NewExitError(ExitFailure, "one or more PSBTs were not signed")
	}
	return nil
}

// submitAll runs the worker and submits every file, returning results in
// argument order.
func submitAll(ctx context.Context, w *worker.Worker, opts *SignOptions, files []string) []SignResult {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = w.Run(ctx)
	}()

	results := make([]SignResult, len(files))
	var g errgroup.Group
	g.SetLimit(max(opts.Jobs, 1))
	for i, file := range files {
		i, file := i, file
		g.Go(func() error {
			results[i] = signFile(ctx, w, opts, file)
			return nil
		})
	}
	_ = g.Wait()

	w.Stop()
	wg.Wait()
	return results
}

func signFile(ctx context.Context, w *worker.Worker, opts *SignOptions, file string) SignResult {
	res := SignResult{File: file}
	fail := func(err error) SignResult {
		res.Error = NewCLIError(err)
		opts.Logger.Warn().Str("file", file).Err(err).Msg("not signed")
		return res
	}

	packet, err := readPsbt(file)
	if err != nil {
		return fail(err)
	}

	data, err := w.Submit(ctx, model.PsbtRequest{Packet: packet})
	if err != nil {
		return fail(err)
	}
	signed, ok := data.(model.SignedPsbt)
	if !ok {
		return fail(fmt.Errorf("unexpected result %T", data))
	}

	encoded, err := signed.Packet.B64Encode()
	if err != nil {
		return fail(fmt.Errorf("encode psbt: %w", err))
	}

	res.Output = signedPath(file, opts.OutDir)
	if err := os.WriteFile(res.Output, []byte(encoded+"\n"), 0o644); err != nil {
		res.Output = ""
		return fail(fmt.Errorf("write signed psbt: %w", err))
	}
	res.Signatures = signed.Signatures
	return res
}

// psbtMagic prefixes every serialized PSBT.
var psbtMagic = []byte{0x70, 0x73, 0x62, 0x74, 0xff}

// readPsbt parses a raw or base64 PSBT file.
func readPsbt(path string) (*psbt.Packet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read psbt: %w", err)
	}

	b64 := !bytes.HasPrefix(data, psbtMagic)
	if b64 {
		data = bytes.TrimSpace(data)
	}

	packet, err := psbt.NewFromRawBytes(bytes.NewReader(data), b64)
	if err != nil {
		return nil, model.Wrap(model.CodeInvalidRequest, fmt.Errorf("parse %s: %w", filepath.Base(path), err))
	}
	return packet, nil
}

func signedPath(file, outDir string) string {
	if outDir == "" {
		return file + SignedSuffix
	}
	return filepath.Join(outDir, filepath.Base(file)+SignedSuffix)
}

// loadSeedFile reads a hex seed and loads it into u. The decoded bytes are
// cleared afterwards.
func loadSeedFile(u *vault.Unsealed, path string) error {
	text, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	defer clear(text)

	seed, err := hex.DecodeString(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("seed file is not hex: %w", err)
	}
	defer clear(seed)
	if len(seed) == 0 {
		return fmt.Errorf("seed file %s is empty", filepath.Base(path))
	}

	return u.LoadSeed(seed)
}

func signingEntropy(hexStr string) ([32]byte, error) {
	var entropy [32]byte
	if hexStr == "" {
		if _, err := rand.Read(entropy[:]); err != nil {
			return entropy, fmt.Errorf("read random entropy: %w", err)
		}
		return entropy, nil
	}

	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return entropy, fmt.Errorf("entropy is not hex: %w", err)
	}
	if len(b) != len(entropy) {
		return entropy, fmt.Errorf("entropy must be %d bytes, got %d", len(entropy), len(b))
	}
	copy(entropy[:], b)
	return entropy, nil
}
